// Package media classifies local files as movies or TV episodes and pulls
// a searchable title out of noisy release names.
package media

import (
	"path/filepath"
	"strings"
)

// Kind is the broad media category of a file.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindTV      Kind = "tv"
	KindUnknown Kind = "unknown"
)

func (k Kind) String() string { return string(k) }

// ParseKind maps a stored or user-supplied kind string onto a Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "film":
		return KindMovie
	case "tv", "series", "show", "episode":
		return KindTV
	default:
		return KindUnknown
	}
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".ts": true, ".m2ts": true, ".mpg": true, ".mpeg": true,
	".vob": true, ".iso": true, ".divx": true,
}

// IsMediaFile reports whether name carries a known video extension.
func IsMediaFile(name string) bool {
	return videoExts[strings.ToLower(filepath.Ext(name))]
}

// stripExt removes a known video extension from name.
func stripExt(name string) string {
	ext := filepath.Ext(name)
	if videoExts[strings.ToLower(ext)] {
		return name[:len(name)-len(ext)]
	}
	return name
}
