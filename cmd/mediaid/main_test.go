package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eargollo/mediaid/internal/scan"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestClassifyCommand_SkipsConfig(t *testing.T) {
	out, err := execute(t, "--config", "/nonexistent/dir/config.yaml",
		"classify", "/media/TV/Show/Show.S01E02.720p.mkv", "/films/Inception.2010.1080p.BluRay.x264.mkv")
	require.NoError(t, err)

	assert.Contains(t, out, "tv-path")
	assert.Contains(t, out, "S01E02")
	assert.Contains(t, out, "movie-path")
	assert.Contains(t, out, "Inception")
	assert.Contains(t, out, "2010")
}

func TestHistoryCommand_Empty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "client.db")
	cfg := writeConfig(t, fmt.Sprintf("client:\n  db_path: %s\n", dbPath))

	out, err := execute(t, "--config", cfg, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No scans recorded.")
}

func TestStatsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"totalHashes":12,"totalSubmissions":30,"totalQueries":7,"averageConfidence":0.83,
			"recentSubmissions":4,"topContributors":[{"bucket":"mediaid-ab","submissions":21}]}`)
	}))
	defer srv.Close()
	cfg := writeConfig(t, fmt.Sprintf("client:\n  server_url: %s\n", srv.URL))

	out, err := execute(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "0.83")
	assert.Contains(t, out, "mediaid-ab")
	assert.Contains(t, out, "21")
}

func TestLookupCommand(t *testing.T) {
	const known = "0123456789abcdef0123456789abcdef"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/"+known) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"matched":false}`)
			return
		}
		fmt.Fprintf(w, `{"matched":true,"fileHash":%q,"mediaData":{"title":"Inception","year":"2010"},
			"confidence":0.95,"stats":{"submissionCount":3,"lastUpdated":"2026-01-02T03:04:05Z"}}`, known)
	}))
	defer srv.Close()
	cfg := writeConfig(t, fmt.Sprintf("client:\n  server_url: %s\n", srv.URL))

	t.Run("hit", func(t *testing.T) {
		out, err := execute(t, "--config", cfg, "lookup", strings.ToUpper(known))
		require.NoError(t, err)
		assert.Contains(t, out, "Inception")
		assert.Contains(t, out, "0.95")
	})

	t.Run("miss", func(t *testing.T) {
		out, err := execute(t, "--config", cfg, "lookup", "ffffffffffffffffffffffffffffffff")
		require.NoError(t, err)
		assert.Contains(t, out, "not known")
	})

	t.Run("invalid hash", func(t *testing.T) {
		_, err := execute(t, "--config", cfg, "lookup", "not-a-hash")
		require.Error(t, err)
	})
}

func TestScanCommand_RequiresPaths(t *testing.T) {
	cfg := writeConfig(t, "log_level: error\n")
	_, err := execute(t, "--config", cfg, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scan paths")
}

func TestProgressLine(t *testing.T) {
	line := progressLine(scan.Snapshot{
		Phase:         scan.PhaseScraping,
		Current:       3,
		Total:         10,
		CurrentItem:   "Inception.2010.mkv",
		Errors:        []string{"boom"},
		ScanCurrent:   10,
		ScanTotal:     10,
		ScrapeCurrent: 5,
		ScrapeTotal:   10,
	})
	assert.Contains(t, line, "scraping")
	assert.Contains(t, line, "85.0%")
	assert.Contains(t, line, "3/10")
	assert.Contains(t, line, "errors:1")
	assert.Contains(t, line, "Inception.2010.mkv")
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 10))
	got := shorten("/very/long/path/to/file.mkv", 10)
	assert.Equal(t, 10, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "file.mkv"))
}

func TestWatchProgress_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	stop := watchProgress(&buf, nil)
	stop()
	assert.Empty(t, buf.String())
}

func TestRenderReport(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rep := &scan.Report{
		RunID:      "run-1",
		Phase:      scan.PhaseCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Candidates: 2,
		HashHits:   1,
		Resolved:   1,
		Submitted:  1,
		Results: []scan.Result{
			{Candidate: scan.Candidate{Name: "Known.mkv"}, Method: scan.MethodHashExact, Confidence: 1},
			{
				Candidate:  scan.Candidate{Name: "Inception.2010.mkv", Kind: "movie"},
				Method:     scan.MethodTitleExact,
				Metadata:   map[string]any{"title": "Inception", "year": "2010"},
				Confidence: 0.95,
				Submitted:  true,
			},
		},
	}

	out := renderReport(rep, false)
	assert.Contains(t, out, "Inception")
	assert.Contains(t, out, "0.95")
	assert.NotContains(t, out, "Known.mkv")
	assert.Contains(t, out, "run-1: completed")

	assert.Contains(t, renderReport(rep, true), "Known.mkv")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("Debug").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}
