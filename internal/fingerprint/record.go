// Package fingerprint stores community-submitted file-hash to metadata
// mappings and merges competing submissions with a confidence-gated policy.
package fingerprint

import (
	"strings"
	"time"
)

// Action is the outcome of an accepted submission.
type Action string

const (
	ActionCreated      Action = "created"
	ActionUpdated      Action = "updated"
	ActionAcknowledged Action = "acknowledged"
)

// Confidence bounds accepted by Submit.
const (
	MinConfidence = 0.5
	MaxConfidence = 1.0
)

// MediaData is the opaque metadata blob attached to a hash. Only title and
// kind are interpreted by the store.
type MediaData map[string]any

// Title returns the trimmed "title" value, or "" when absent.
func (m MediaData) Title() string { return m.stringField("title") }

// Kind returns the trimmed "kind" value, or "" when absent.
func (m MediaData) Kind() string { return m.stringField("kind") }

func (m MediaData) stringField(key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// FieldCount reports how many keys carry a populated value: not null, not a
// blank string, not zero, not an empty list or object.
func (m MediaData) FieldCount() int {
	n := 0
	for _, v := range m {
		if populated(v) {
			n++
		}
	}
	return n
}

func populated(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Record is the best-known metadata for one file hash.
type Record struct {
	Hash             string
	MediaData        MediaData
	Confidence       float64
	SubmissionCount  int64
	QueryCount       int64
	CreatedAt        time.Time
	LastUpdated      time.Time
	LastQueried      time.Time // zero until the first lookup hit
	LastSubmitterTag string
}

// Submission is one client's claim about a hash.
type Submission struct {
	Hash         string
	MediaData    MediaData
	Confidence   float64
	SubmitterTag string
	UserAgent    string
}

// SubmitResult reports what Submit did and the record as it now stands.
type SubmitResult struct {
	Action Action
	Record *Record
}

// Stats aggregates store-wide counters.
type Stats struct {
	TotalHashes       int64         `json:"totalHashes"`
	TotalSubmissions  int64         `json:"totalSubmissions"`
	TotalQueries      int64         `json:"totalQueries"`
	AverageConfidence float64       `json:"averageConfidence"`
	RecentSubmissions int64         `json:"recentSubmissions"`
	TopContributors   []Contributor `json:"topContributors"`
}

// Contributor is a submitter-tag bucket with its submission count.
type Contributor struct {
	Bucket      string `json:"bucket"`
	Submissions int64  `json:"submissions"`
}
