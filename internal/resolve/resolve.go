// Package resolve turns a noisy file title into a metadata search result.
//
// It expands the raw title into a short list of search candidates, queries
// the metadata provider for each, and ranks the results: a result from the
// expected release year beats the first titled result, which beats the
// first raw result seen across all candidates.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/media"
	"github.com/eargollo/mediaid/internal/tmdb"
)

// Query is what the resolver knows about a file.
type Query struct {
	RawTitle string
	Year     string
	Kind     media.Kind
	// Path is the file's full path; TV queries mine its directories for
	// series names.
	Path string
}

// Match is the chosen search result and how it was chosen.
type Match struct {
	Result tmdb.Result
	// Query is the candidate title whose search produced Result.
	Query       string
	YearMatched bool
	ExactTitle  bool
	// Fallback is set when no candidate produced a titled result and the
	// first raw result was taken instead.
	Fallback bool
}

// Method names the matching strategy for reporting.
func (m *Match) Method() string {
	if m.ExactTitle && !m.Fallback {
		return "title_exact"
	}
	return "title_fuzzy"
}

// Confidence grades the match quality.
func (m *Match) Confidence() float64 {
	var c float64
	switch {
	case m.Fallback:
		c = 0.55
	case m.ExactTitle && m.YearMatched:
		c = 0.95
	case m.ExactTitle:
		c = 0.85
	case m.YearMatched:
		c = 0.75
	default:
		c = 0.65
	}
	return Clamp(c)
}

// Clamp bounds a confidence to the range the fingerprint store accepts.
func Clamp(c float64) float64 {
	switch {
	case c < 0.5:
		return 0.5
	case c > 1.0:
		return 1.0
	}
	return c
}

// Resolver searches a metadata provider for title candidates.
type Resolver struct {
	searcher tmdb.Searcher
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Resolver backed by searcher.
func New(searcher tmdb.Searcher, opts ...Option) *Resolver {
	r := &Resolver{searcher: searcher, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resolve")
	return r
}

// Resolve returns the best match for q, or nil when no candidate produced
// any result. An error is returned only when every search failed.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Match, error) {
	candidates := Candidates(q)
	if len(candidates) == 0 {
		return nil, nil
	}
	yearKnown := KnownYear(q.Year)
	rawKey := strings.TrimSpace(q.RawTitle)
	rawNorm := media.NormalizeTitle(rawKey)

	var (
		match    *Match
		first    *Match
		searched int
		failures []error
	)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := r.searcher.Search(ctx, cand, q.Kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("search failed", "candidate", cand, "error", err)
			failures = append(failures, err)
			continue
		}
		searched++
		r.logger.Debug("searched", "candidate", cand, "results", len(results))

		for _, res := range results {
			m := &Match{
				Result:      res,
				Query:       cand,
				YearMatched: yearKnown && res.Year() == q.Year,
				ExactTitle:  rawNorm != "" && media.NormalizeTitle(res.DisplayTitle()) == rawNorm,
			}
			if first == nil {
				first = m
			}
			if res.DisplayTitle() == "" {
				continue
			}
			if match == nil {
				match = m
			}
			if m.YearMatched && !match.YearMatched {
				match = m
			}
		}

		if cand == rawKey && len(results) > 0 {
			break
		}
	}

	if match != nil {
		return match, nil
	}
	if first != nil {
		first.Fallback = true
		return first, nil
	}
	if searched == 0 && len(failures) > 0 {
		return nil, errs.Wrap(errs.ErrResolution, "resolve", "search", q.RawTitle, errors.Join(failures...))
	}
	return nil, nil
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "with": true,
}

var yearSentinels = map[string]bool{"": true, "unknown": true, "0": true, "0000": true}

// KnownYear reports whether year carries a real value rather than a
// placeholder.
func KnownYear(year string) bool {
	return !yearSentinels[strings.ToLower(strings.TrimSpace(year))]
}

var (
	pathSepRx     = regexp.MustCompile(`[._\-]+`)
	spacesRx      = regexp.MustCompile(`\s+`)
	trailSeasonRx = regexp.MustCompile(`(?i)\s+(?:s\d{1,2}|season\s*\d+)$`)
	noiseDirRx    = regexp.MustCompile(`(?i)^(?:s\d{1,3}(?:e\d{1,3})?|season\s*\d+|series\s*\d+|episode\s*\d+|specials?|extras?|featurettes?|disc\s*\d+|complete)$`)
)

// genericDirs are library folder names that never name a series.
var genericDirs = map[string]bool{
	"tv": true, "tv shows": true, "tvshows": true, "shows": true, "series": true,
	"media": true, "video": true, "videos": true, "movies": true, "downloads": true,
	"library": true, "share": true, "shares": true, "public": true, "mnt": true,
	"volumes": true, "data": true, "home": true, "nas": true,
}

const (
	minSeriesLen = 7
	maxSeriesLen = 49
)

// Candidates returns the de-duplicated search titles for q in priority order.
func Candidates(q Query) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	raw := strings.TrimSpace(q.RawTitle)
	add(raw)
	for _, c := range completions(raw, q.Kind) {
		add(c)
	}
	if q.Kind == media.KindTV {
		for _, s := range seriesFromPath(q.Path) {
			add(s)
		}
	}
	return out
}

func completions(raw string, kind media.Kind) []string {
	words := strings.Fields(raw)
	if len(words) == 0 || len(words) >= 3 || stopwords[strings.ToLower(words[len(words)-1])] {
		return nil
	}
	if kind == media.KindTV {
		return []string{raw + " The Series"}
	}
	return []string{raw + " The Movie", raw + " Part 1"}
}

// seriesFromPath returns plausible series names from the directories of
// path, nearest directory first.
func seriesFromPath(path string) []string {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(filepath.ToSlash(path))
	segs := strings.Split(dir, "/")

	var out []string
	for i := len(segs) - 1; i >= 0; i-- {
		seg := spacesRx.ReplaceAllString(pathSepRx.ReplaceAllString(segs[i], " "), " ")
		seg = strings.TrimSpace(seg)
		if seg == "" || noiseDirRx.MatchString(seg) || genericDirs[strings.ToLower(seg)] {
			continue
		}
		seg = strings.TrimSpace(trailSeasonRx.ReplaceAllString(seg, ""))
		if parsed := media.ParseName(seg).Title; parsed != "" {
			seg = parsed
		}
		if n := utf8.RuneCountInString(seg); n < minSeriesLen || n > maxSeriesLen {
			continue
		}
		out = append(out, seg)
	}
	return out
}
