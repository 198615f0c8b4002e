package handlers

import (
	"net/http"
	"time"

	"github.com/eargollo/mediaid/internal/scan"
)

// Schedule describes the scheduled scan job.
type Schedule interface {
	CronExpr() string
	NextRunAt() *time.Time
}

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Scans    ScanController
	Schedule Schedule
}

type statusResponse struct {
	ActiveScan *activeScanInfo `json:"active_scan"`
	LastScan   *progressInfo   `json:"last_scan"`
	Schedule   *scheduleInfo   `json:"schedule"`
}

type activeScanInfo struct {
	RunID       string       `json:"run_id"`
	StartedAt   time.Time    `json:"started_at"`
	TriggeredBy string       `json:"triggered_by"`
	Progress    progressInfo `json:"progress"`
}

type progressInfo struct {
	scan.Snapshot
	Overall float64 `json:"overall"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

func progressFor(s scan.Snapshot) progressInfo {
	if s.Errors == nil {
		s.Errors = []string{}
	}
	return progressInfo{Snapshot: s, Overall: s.Overall()}
}

// ServeHTTP returns the daemon status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	snap := h.Scans.Progress()
	if active := h.Scans.Active(); active != nil {
		resp.ActiveScan = &activeScanInfo{
			RunID:       active.RunID,
			StartedAt:   active.StartedAt.UTC(),
			TriggeredBy: active.TriggeredBy,
			Progress:    progressFor(snap),
		}
	} else if snap.Phase != scan.PhaseIdle {
		last := progressFor(snap)
		resp.LastScan = &last
	}
	if h.Schedule != nil {
		resp.Schedule = &scheduleInfo{
			Cron:      h.Schedule.CronExpr(),
			NextRunAt: h.Schedule.NextRunAt(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
