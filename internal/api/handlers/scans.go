package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eargollo/mediaid/internal/scan"
)

// ScanController is the subset of scan.Orchestrator the control endpoints
// drive.
type ScanController interface {
	Start(ctx context.Context, triggeredBy string) (*scan.ActiveScan, error)
	Cancel() (*scan.ActiveScan, error)
	Active() *scan.ActiveScan
	Progress() scan.Snapshot
}

// HistorySource lists recorded scans newest first.
type HistorySource func(ctx context.Context, limit int) ([]scan.HistoryEntry, error)

// ScansHandler handles scan-related control endpoints.
type ScansHandler struct {
	Scans   ScanController
	History HistorySource
}

// ListResponse wraps a page of items.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Limit int `json:"limit"`
}

type scanRef struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	TriggeredBy string `json:"triggered_by"`
}

// Create handles POST /api/scans and triggers a manual scan. The scan
// outlives the request.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	active, err := h.Scans.Start(context.WithoutCancel(r.Context()), "api")
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", "A scan is already in progress")
			return
		}
		slog.Error("scans: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, scanRef{
		RunID:       active.RunID,
		Status:      "running",
		StartedAt:   active.StartedAt.UTC().Format(time.RFC3339),
		TriggeredBy: active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/scans/current. Nothing is submitted once it
// has answered.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Scans.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scanRef{
		RunID:       snap.RunID,
		Status:      string(scan.PhaseCancelled),
		StartedAt:   snap.StartedAt.UTC().Format(time.RFC3339),
		TriggeredBy: snap.TriggeredBy,
	})
}

// Current handles GET /api/scans/current and returns the live progress of
// the running scan, or of the last one when idle.
func (h *ScansHandler) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, progressFor(h.Scans.Progress()))
}

type scanItem struct {
	RunID           string  `json:"run_id"`
	Root            string  `json:"root"`
	Status          string  `json:"status"`
	TriggeredBy     string  `json:"triggered_by"`
	StartedAt       string  `json:"started_at"`
	FinishedAt      *string `json:"finished_at"`
	DurationSeconds *int64  `json:"duration_seconds"`
	Candidates      int64   `json:"candidates"`
	HashHits        int64   `json:"hash_hits"`
	HashHitRate     float64 `json:"hash_hit_rate"`
	Resolved        int64   `json:"resolved"`
	Unresolved      int64   `json:"unresolved"`
	Submitted       int64   `json:"submitted"`
	Errors          int64   `json:"errors"`
}

// List handles GET /api/scans and returns scan history newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	entries, err := h.History(r.Context(), limit)
	if err != nil {
		slog.Error("scans list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	items := make([]scanItem, 0, len(entries))
	for _, e := range entries {
		it := scanItem{
			RunID:       e.RunID,
			Root:        e.Root,
			Status:      e.Status,
			TriggeredBy: e.TriggeredBy,
			StartedAt:   e.StartedAt.UTC().Format(time.RFC3339),
			Candidates:  e.Candidates,
			HashHits:    e.HashHits,
			Resolved:    e.Resolved,
			Unresolved:  e.Unresolved,
			Submitted:   e.Submitted,
			Errors:      e.Errors,
		}
		if !e.FinishedAt.IsZero() {
			s := e.FinishedAt.UTC().Format(time.RFC3339)
			it.FinishedAt = &s
			d := int64(e.FinishedAt.Sub(e.StartedAt).Seconds())
			it.DurationSeconds = &d
		}
		if e.Candidates > 0 {
			it.HashHitRate = float64(e.HashHits) / float64(e.Candidates)
		}
		items = append(items, it)
	}

	writeJSON(w, http.StatusOK, ListResponse[scanItem]{
		Items: items,
		Total: len(items),
		Limit: limit,
	})
}

// parseLimit reads ?limit=, defaulting to 50 and capped at 200.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}
