package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/fingerprint"
	"github.com/eargollo/mediaid/internal/metrics"
)

// SubmitterHeader lets clients present a stable pseudonymous tag.
const SubmitterHeader = "X-Submitter-Tag"

// Store is the subset of fingerprint.Store the handlers need.
type Store interface {
	Lookup(ctx context.Context, hash string) (*fingerprint.Record, error)
	Submit(ctx context.Context, sub fingerprint.Submission) (*fingerprint.SubmitResult, error)
	Stats(ctx context.Context) (*fingerprint.Stats, error)
}

// FingerprintHandler serves the hash query, submit and stats endpoints.
type FingerprintHandler struct {
	Store   Store
	Metrics *metrics.Metrics
}

type queryStats struct {
	SubmissionCount int64  `json:"submissionCount"`
	LastUpdated     string `json:"lastUpdated"`
}

type queryHit struct {
	Matched    bool                  `json:"matched"`
	FileHash   string                `json:"fileHash"`
	MediaData  fingerprint.MediaData `json:"mediaData"`
	Confidence float64               `json:"confidence"`
	Stats      queryStats            `json:"stats"`
}

type queryMiss struct {
	Matched  bool   `json:"matched"`
	FileHash string `json:"fileHash"`
	Error    string `json:"error,omitempty"`
}

// QueryHash handles GET /api/query-hash/{hash}.
func (h *FingerprintHandler) QueryHash(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if len(hash) != fingerprint.HashLength {
		h.Metrics.Rejection("validation")
		writeJSON(w, http.StatusBadRequest, queryMiss{FileHash: hash, Error: "file hash must be 32 hex characters"})
		return
	}

	rec, err := h.Store.Lookup(r.Context(), hash)
	if err != nil {
		status := statusFor(err)
		switch status {
		case http.StatusNotFound:
			h.Metrics.Lookup("miss")
			writeJSON(w, status, queryMiss{FileHash: strings.ToLower(hash)})
		case http.StatusBadRequest:
			h.Metrics.Rejection("validation")
			writeJSON(w, status, queryMiss{FileHash: hash, Error: err.Error()})
		default:
			h.Metrics.Lookup("error")
			slog.Error("query-hash: lookup", "hash", hash, "error", err)
			writeJSON(w, status, queryMiss{FileHash: hash, Error: "storage unavailable"})
		}
		return
	}

	h.Metrics.Lookup("hit")
	writeJSON(w, http.StatusOK, queryHit{
		Matched:    true,
		FileHash:   rec.Hash,
		MediaData:  rec.MediaData,
		Confidence: rec.Confidence,
		Stats: queryStats{
			SubmissionCount: rec.SubmissionCount,
			LastUpdated:     rec.LastUpdated.UTC().Format(time.RFC3339),
		},
	})
}

type submitRequest struct {
	FileHash   string                `json:"fileHash"`
	MediaData  fingerprint.MediaData `json:"mediaData"`
	Confidence *float64              `json:"confidence"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubmitHash handles POST /api/submit-hash.
func (h *FingerprintHandler) SubmitHash(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.Metrics.Rejection("validation")
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if req.Confidence == nil {
		h.Metrics.Rejection("validation")
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "confidence is required"})
		return
	}

	res, err := h.Store.Submit(r.Context(), fingerprint.Submission{
		Hash:         req.FileHash,
		MediaData:    req.MediaData,
		Confidence:   *req.Confidence,
		SubmitterTag: submitterTag(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, errs.ErrValidation) {
			h.Metrics.Rejection("validation")
			writeJSON(w, status, submitResponse{Error: err.Error()})
			return
		}
		h.Metrics.Rejection("storage")
		slog.Error("submit-hash: submit", "hash", req.FileHash, "error", err)
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "storage unavailable"})
		return
	}

	h.Metrics.Submission(string(res.Action))
	status := http.StatusOK
	if res.Action == fingerprint.ActionCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, submitResponse{Success: true, Action: string(res.Action)})
}

// Stats handles GET /api/stats.
func (h *FingerprintHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.Stats(r.Context())
	if err != nil {
		slog.Error("stats: query", "error", err)
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitterTag prefers the client-supplied header and falls back to a
// pseudonym derived from the remote address.
func submitterTag(r *http.Request) string {
	if tag := strings.TrimSpace(r.Header.Get(SubmitterHeader)); tag != "" {
		if len(tag) > 64 {
			tag = tag[:64]
		}
		return tag
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(host))
	return "ip-" + hex.EncodeToString(sum[:8])
}
