package media

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Name is what ParseName could recover from a release-style file name.
// Year is "" when no plausible year was found; Season and Episode are 0
// when the name carries no episode marker.
type Name struct {
	Title   string
	Year    string
	Season  int
	Episode int
}

var (
	separatorRx    = regexp.MustCompile(`[._]+`)
	collapseRx     = regexp.MustCompile(`\s+`)
	bracketRx      = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}`)
	emptyParenRx   = regexp.MustCompile(`\(\s*\)`)
	seasonEpRx     = regexp.MustCompile(`(?i)\bS(\d{1,3})\s?E(\d{1,3})\b`)
	nxmCaptureRx   = regexp.MustCompile(`\b(\d{1,2})x(\d{1,3})\b`)
	wordyEpisodeRx = regexp.MustCompile(`(?i)\bseason\s*(\d+)(?:\s*episode\s*(\d+))?`)
	closedYearRx   = regexp.MustCompile(`[\(\[]((?:19|20)\d{2})[\)\]]`)
	bareYearRx     = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

	// Release noise: anything from the first of these tokens onwards is
	// dropped from the title.
	noiseRx = regexp.MustCompile(`(?i)\b(` + strings.Join([]string{
		`\d{3,4}[pi]`, `4k`, `uhd`, `hdr(?:10)?`, `dolby\s?vision`,
		`blu-?ray`, `bdrip`, `brrip`, `remux`, `web-?dl`, `webrip`, `hdtv`, `dvdrip`, `dvdscr`, `hdrip`,
		`x26[456]`, `h\s?26[456]`, `hevc`, `avc`, `xvid`, `divx`, `av1`,
		`aac`, `e?ac3`, `ddp?`, `dts(?:-hd)?`, `truehd`, `atmos`, `flac`,
		`proper`, `repack`, `extended`, `unrated`, `internal`, `limited`, `remastered`,
		`10bit`, `8bit`, `multi`, `subbed`, `dubbed`,
	}, "|") + `)\b`)
)

// ParseName extracts a searchable title, a year and an episode marker from
// a file name such as "Inception.2010.1080p.BluRay.x264-GROUP.mkv".
func ParseName(name string) Name {
	s := stripExt(name)
	s = bracketRx.ReplaceAllString(s, " ")
	s = separatorRx.ReplaceAllString(s, " ")

	var n Name
	cut := len(s)
	cutAt := func(i int) {
		if i > 0 && i < cut {
			cut = i
		}
	}
	// A name that opens with its episode marker ("S01E01.mkv") carries no
	// title; the series comes from the directories instead.
	cutMarker := func(i int) {
		if i >= 0 && i < cut {
			cut = i
		}
	}

	switch {
	case seasonEpRx.MatchString(s):
		m := seasonEpRx.FindStringSubmatchIndex(s)
		n.Season, _ = strconv.Atoi(s[m[2]:m[3]])
		n.Episode, _ = strconv.Atoi(s[m[4]:m[5]])
		cutMarker(m[0])
	case nxmCaptureRx.MatchString(s):
		m := nxmCaptureRx.FindStringSubmatchIndex(s)
		n.Season, _ = strconv.Atoi(s[m[2]:m[3]])
		n.Episode, _ = strconv.Atoi(s[m[4]:m[5]])
		cutMarker(m[0])
	case wordyEpisodeRx.MatchString(s):
		m := wordyEpisodeRx.FindStringSubmatchIndex(s)
		n.Season, _ = strconv.Atoi(s[m[2]:m[3]])
		if m[4] >= 0 {
			n.Episode, _ = strconv.Atoi(s[m[4]:m[5]])
		}
		cutMarker(m[0])
	}

	if m := closedYearRx.FindStringSubmatchIndex(s); m != nil {
		n.Year = s[m[2]:m[3]]
		cutAt(m[0])
	} else {
		// The last bare year wins so titles like "2001 A Space Odyssey 1968"
		// keep their leading number.
		all := bareYearRx.FindAllStringSubmatchIndex(s, -1)
		for i := len(all) - 1; i >= 0; i-- {
			if all[i][0] > 0 {
				n.Year = s[all[i][2]:all[i][3]]
				cutAt(all[i][0])
				break
			}
		}
	}

	if loc := noiseRx.FindStringIndex(s); loc != nil {
		cutAt(loc[0])
	}

	n.Title = CleanTitle(s[:cut])
	return n
}

// CleanTitle collapses whitespace, drops dangling separators and title-cases
// names that arrive all in one case.
func CleanTitle(s string) string {
	s = emptyParenRx.ReplaceAllString(s, " ")
	s = collapseRx.ReplaceAllString(s, " ")
	s = strings.Trim(s, " -([")
	if s == strings.ToLower(s) || s == strings.ToUpper(s) {
		s = cases.Title(language.English).String(s)
	}
	return s
}

// NormalizeTitle reduces a title to a comparison key: case folded,
// punctuation removed and whitespace collapsed.
func NormalizeTitle(s string) string {
	s = cases.Fold().String(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(collapseRx.ReplaceAllString(b.String(), " "))
}
