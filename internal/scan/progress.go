package scan

import (
	"sync"
	"time"
)

// Phase is a scan state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseConnecting  Phase = "connecting"
	PhaseDiscovering Phase = "discovering"
	PhaseProcessing  Phase = "processing"
	PhaseScraping    Phase = "scraping"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
	PhaseCancelled   Phase = "cancelled"
)

// Terminal reports whether no further transitions happen from p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError || p == PhaseCancelled
}

// Weights of the two progress terms in Overall.
const (
	scanWeight   = 0.7
	scrapeWeight = 0.3
)

// Progress is the live state of one scan. It is written only by the
// orchestrator's collector goroutine and read through Snapshot.
type Progress struct {
	mu sync.Mutex
	s  Snapshot
}

// Snapshot is a point-in-time copy of Progress.
type Snapshot struct {
	Phase       Phase     `json:"phase"`
	Current     int64     `json:"current"`
	Total       int64     `json:"total"`
	CurrentItem string    `json:"currentItem"`
	StartTime   time.Time `json:"startTime"`
	Errors      []string  `json:"errors"`

	// ScanCurrent/ScanTotal cover directories and candidate hashing;
	// ScrapeCurrent/ScrapeTotal cover title resolution of hash misses.
	ScanCurrent   int64 `json:"scanCurrent"`
	ScanTotal     int64 `json:"scanTotal"`
	ScrapeCurrent int64 `json:"scrapeCurrent"`
	ScrapeTotal   int64 `json:"scrapeTotal"`
}

func newProgress(start time.Time) *Progress {
	return &Progress{s: Snapshot{Phase: PhaseConnecting, StartTime: start}}
}

// Snapshot returns a copy safe to retain.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.s
	out.Errors = append([]string(nil), p.s.Errors...)
	return out
}

func (p *Progress) update(fn func(s *Snapshot)) {
	p.mu.Lock()
	fn(&p.s)
	p.mu.Unlock()
}

func (p *Progress) setPhase(ph Phase) {
	p.update(func(s *Snapshot) {
		s.Phase = ph
		s.CurrentItem = ""
	})
}

func (p *Progress) addError(msg string) {
	p.update(func(s *Snapshot) { s.Errors = append(s.Errors, msg) })
}

// Overall is the weighted completion in [0,1]:
// 0.7*scan fraction + 0.3*scrape fraction, a term being 0 while its total
// is 0. A completed scan is always 1.
func (s Snapshot) Overall() float64 {
	if s.Phase == PhaseCompleted {
		return 1
	}
	return scanWeight*fraction(s.ScanCurrent, s.ScanTotal) + scrapeWeight*fraction(s.ScrapeCurrent, s.ScrapeTotal)
}

func fraction(cur, total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(cur) / float64(total)
	if f > 1 {
		return 1
	}
	return f
}
