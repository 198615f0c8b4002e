// Package hashclient talks to a remote fingerprintd over its JSON API. It
// satisfies the same Lookup/Submit shape as fingerprint.Store so the scan
// orchestrator can run against either.
package hashclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/fingerprint"
)

// SubmitterHeader carries the client's pseudonymous tag.
const SubmitterHeader = "X-Submitter-Tag"

// Client is a fingerprintd API client.
type Client struct {
	baseURL      string
	submitterTag string
	userAgent    string
	httpClient   *http.Client
	maxRetries   uint64
	retryBase    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSubmitterTag sets the tag sent with every request.
func WithSubmitterTag(tag string) Option {
	return func(c *Client) { c.submitterTag = strings.TrimSpace(tag) }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRetry sets how often transient failures are retried and the base
// delay of the exponential backoff.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if base > 0 {
			c.retryBase = base
		}
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("fingerprint server url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		userAgent:  "mediaid",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 3,
		retryBase:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type queryResponse struct {
	Matched    bool                  `json:"matched"`
	FileHash   string                `json:"fileHash"`
	MediaData  fingerprint.MediaData `json:"mediaData"`
	Confidence float64               `json:"confidence"`
	Error      string                `json:"error"`
	Stats      struct {
		SubmissionCount int64  `json:"submissionCount"`
		LastUpdated     string `json:"lastUpdated"`
	} `json:"stats"`
}

type submitRequest struct {
	FileHash   string                `json:"fileHash"`
	MediaData  fingerprint.MediaData `json:"mediaData"`
	Confidence float64               `json:"confidence"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Error   string `json:"error"`
}

// Lookup fetches the stored record for hash. A miss returns errs.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, hash string) (*fingerprint.Record, error) {
	var out queryResponse
	status, err := c.do(ctx, http.MethodGet, "/api/query-hash/"+url.PathEscape(hash), nil, &out)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "hashclient", "lookup", hash, err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errs.Wrap(errs.ErrNotFound, "hashclient", "lookup", hash, nil)
	case http.StatusBadRequest:
		return nil, errs.Validation(hash, "rejected by server: %s", out.Error)
	default:
		return nil, errs.Wrap(errs.ErrStorage, "hashclient", "lookup", hash, fmt.Errorf("unexpected status %d", status))
	}

	rec := &fingerprint.Record{
		Hash:            out.FileHash,
		MediaData:       out.MediaData,
		Confidence:      out.Confidence,
		SubmissionCount: out.Stats.SubmissionCount,
	}
	if t, err := time.Parse(time.RFC3339, out.Stats.LastUpdated); err == nil {
		rec.LastUpdated = t
	}
	return rec, nil
}

// Submit posts a resolution. A retried submit may be counted twice by the
// server when the first response was lost.
func (c *Client) Submit(ctx context.Context, sub fingerprint.Submission) (*fingerprint.SubmitResult, error) {
	body, err := json.Marshal(submitRequest{FileHash: sub.Hash, MediaData: sub.MediaData, Confidence: sub.Confidence})
	if err != nil {
		return nil, errs.Validation(sub.Hash, "encode submission: %v", err)
	}
	var out submitResponse
	status, err := c.do(ctx, http.MethodPost, "/api/submit-hash", body, &out)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "hashclient", "submit", sub.Hash, err)
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return &fingerprint.SubmitResult{Action: fingerprint.Action(out.Action)}, nil
	case http.StatusBadRequest:
		return nil, errs.Validation(sub.Hash, "rejected by server: %s", out.Error)
	default:
		return nil, errs.Wrap(errs.ErrStorage, "hashclient", "submit", sub.Hash, fmt.Errorf("unexpected status %d: %s", status, out.Error))
	}
}

// Stats fetches the service aggregate counters.
func (c *Client) Stats(ctx context.Context) (*fingerprint.Stats, error) {
	var out fingerprint.Stats
	status, err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "hashclient", "stats", "", err)
	}
	if status != http.StatusOK {
		return nil, errs.Wrap(errs.ErrStorage, "hashclient", "stats", "", fmt.Errorf("unexpected status %d", status))
	}
	return &out, nil
}

// do sends one request, retrying transport errors and 5xx responses with
// exponential backoff. Any other response is decoded into out and its
// status returned.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))

	var status int
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", c.userAgent)
		if c.submitterTag != "" {
			req.Header.Set(SubmitterHeader, c.submitterTag)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(fmt.Errorf("%s %s: server returned %d", method, path, resp.StatusCode))
		}
		status = resp.StatusCode
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	})
	return status, err
}
