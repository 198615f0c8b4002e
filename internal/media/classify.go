package media

import (
	"regexp"
	"strings"
)

// Rule is one classification heuristic. Rules are evaluated in order and
// the first one whose Match returns true decides the Kind.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(path, name string) bool
}

var (
	tvPathWords    = []string{"tv", "series", "season", "episode"}
	moviePathWords = []string{"movie", "film"}

	episodeMarkerRx = regexp.MustCompile(`(?i)S\d+E\d+|season\s*\d+|episode\s*\d+`)
	parenYearRx     = regexp.MustCompile(`\(\d{4}\)`)
	nxmRx           = regexp.MustCompile(`\b\d{1,2}x\d{1,3}\b`)
)

func containsAny(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func hasEpisodeMarker(name string) bool {
	return episodeMarkerRx.MatchString(name) || nxmRx.MatchString(name)
}

// Rules is the ordered classification rule list. Order matters: the year
// rules are looser than the episode markers and must come after them.
var Rules = []Rule{
	{
		// path is the full path including the file name, so release tags
		// such as HDTV or WEBTV in the name also count.
		Name:  "tv-path",
		Kind:  KindTV,
		Match: func(path, _ string) bool { return containsAny(path, tvPathWords) },
	},
	{
		// A movie folder still yields to an explicit episode marker in the
		// file name ("/Movies/Show (2021) 1x02.mkv" is an episode).
		Name: "movie-path",
		Kind: KindMovie,
		Match: func(path, name string) bool {
			return containsAny(path, moviePathWords) && !hasEpisodeMarker(name)
		},
	},
	{
		Name:  "episode-marker",
		Kind:  KindTV,
		Match: func(_, name string) bool { return episodeMarkerRx.MatchString(name) },
	},
	{
		Name: "year-with-nxm",
		Kind: KindTV,
		Match: func(_, name string) bool {
			return parenYearRx.MatchString(name) && nxmRx.MatchString(name)
		},
	},
	{
		Name: "year-only",
		Kind: KindMovie,
		Match: func(_, name string) bool {
			return parenYearRx.MatchString(name) && !nxmRx.MatchString(name)
		},
	},
}

// Classify maps a file's path and name to a Kind using Rules.
func Classify(path, name string) Kind {
	kind, _ := ClassifyWithRule(path, name)
	return kind
}

// ClassifyWithRule is Classify that also returns the name of the deciding
// rule, or "" when no rule matched.
func ClassifyWithRule(path, name string) (Kind, string) {
	for _, r := range Rules {
		if r.Match(path, name) {
			return r.Kind, r.Name
		}
	}
	return KindUnknown, ""
}
