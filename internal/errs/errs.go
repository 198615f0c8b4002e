// Package errs defines the error taxonomy shared by the fingerprint service
// and the scan client. Callers classify failures with errors.Is against the
// exported markers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks client-caused failures (bad hash, confidence out of
	// range, missing fields). Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup miss. Expected, not a failure path.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks an unavailable or failing backing store.
	ErrStorage = errors.New("storage error")
	// ErrEnumeration marks a directory that could not be listed or a file
	// that could not be read. Scoped to that subtree or file.
	ErrEnumeration = errors.New("enumeration error")
	// ErrResolution marks a search provider failure for one candidate.
	ErrResolution = errors.New("resolution error")
	// ErrFatalConnect marks a failed initial connectivity check. Aborts the scan.
	ErrFatalConnect = errors.New("connect failed")
)

// Wrap tags err with marker and a detail built from stage, operation and
// subject (a path or hash). Empty parts are skipped.
func Wrap(marker error, stage, operation, subject string, err error) error {
	detail := buildDetail(stage, operation, subject)
	if marker == nil {
		marker = ErrStorage
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Validation is shorthand for a validation failure on subject.
func Validation(subject, format string, args ...any) error {
	return Wrap(ErrValidation, "", fmt.Sprintf(format, args...), subject, nil)
}

func buildDetail(stage, operation, subject string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{stage, operation, subject} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
