package fingerprint

import (
	"regexp"
	"strings"

	"github.com/eargollo/mediaid/internal/errs"
)

// HashLength is the length of a valid file hash in hex characters.
const HashLength = 32

var hashPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// NormalizeHash lowercases and validates a file hash.
func NormalizeHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if !hashPattern.MatchString(h) {
		return "", errs.Validation(hash, "file hash must be %d hex characters", HashLength)
	}
	return h, nil
}

// ValidateConfidence rejects values outside [MinConfidence, MaxConfidence],
// including NaN.
func ValidateConfidence(hash string, c float64) error {
	if !(c >= MinConfidence && c <= MaxConfidence) {
		return errs.Validation(hash, "confidence %v outside [%.1f, %.1f]", c, MinConfidence, MaxConfidence)
	}
	return nil
}

func validateSubmission(sub Submission) (string, error) {
	hash, err := NormalizeHash(sub.Hash)
	if err != nil {
		return "", err
	}
	if err := ValidateConfidence(hash, sub.Confidence); err != nil {
		return "", err
	}
	if sub.MediaData == nil {
		return "", errs.Validation(hash, "mediaData is required")
	}
	if sub.MediaData.Title() == "" {
		return "", errs.Validation(hash, "mediaData.title is required")
	}
	if sub.MediaData.Kind() == "" {
		return "", errs.Validation(hash, "mediaData.kind is required")
	}
	return hash, nil
}
