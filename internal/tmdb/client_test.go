package tmdb_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eargollo/mediaid/internal/media"
	"github.com/eargollo/mediaid/internal/tmdb"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := tmdb.New("", "https://example.com", "en-US"); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestSearchRoutesByKind(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "key" {
			t.Errorf("expected api_key query parameter, got %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("query") != "Inception" {
			t.Errorf("expected query=Inception, got %q", r.URL.RawQuery)
		}
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"page":1,"results":[{"id":27205,"title":"Inception","release_date":"2010-07-15"}]}`))
	}))
	t.Cleanup(server.Close)

	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for kind, path := range map[media.Kind]string{
		media.KindMovie:   "/search/movie",
		media.KindTV:      "/search/tv",
		media.KindUnknown: "/search/multi",
	} {
		results, err := client.Search(context.Background(), "Inception", kind)
		if err != nil {
			t.Fatalf("Search(%s) returned error: %v", kind, err)
		}
		if gotPath != path {
			t.Errorf("Search(%s) hit %q, want %q", kind, gotPath, path)
		}
		if kind == media.KindUnknown {
			// No media_type on the fixture, so multi filters it out.
			if len(results) != 0 {
				t.Errorf("multi search: expected people/untyped rows filtered, got %#v", results)
			}
			continue
		}
		if len(results) != 1 || results[0].Year() != "2010" || results[0].DisplayTitle() != "Inception" {
			t.Errorf("unexpected results: %#v", results)
		}
	}
}

func TestSearchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status_code":500}`))
	}))
	t.Cleanup(server.Close)

	client, err := tmdb.New("key", server.URL, "")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Search(context.Background(), "fail", media.KindMovie); err == nil {
		t.Fatal("expected error when TMDB returns non-200")
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	client, err := tmdb.New("key", "https://example.com", "")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Search(context.Background(), "  ", media.KindMovie); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchRateLimited(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	t.Cleanup(server.Close)

	client, err := tmdb.New("key", server.URL, "", tmdb.WithRateLimit(20))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.Search(context.Background(), "x", media.KindTV); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	// Burst of one at 20 rps: the 2nd and 3rd requests wait ~50ms each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected limiter to space requests, took %v", elapsed)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestSearchRateLimitHonoursContext(t *testing.T) {
	client, err := tmdb.New("key", "http://127.0.0.1:1", "", tmdb.WithRateLimit(0.001))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// First token is available immediately; the request itself fails to
	// connect. The second call must fail on the limiter wait.
	_, _ = client.Search(ctx, "x", media.KindMovie)
	if _, err := client.Search(ctx, "x", media.KindMovie); err == nil {
		t.Fatal("expected limiter wait to fail on context deadline")
	}
}

func TestResultKind(t *testing.T) {
	if got := (tmdb.Result{MediaType: "tv"}).Kind(media.KindMovie); got != media.KindTV {
		t.Errorf("media_type wins: got %s", got)
	}
	if got := (tmdb.Result{Name: "Lost", FirstAirDate: "2004-09-22"}).Kind(media.KindUnknown); got != media.KindTV {
		t.Errorf("first_air_date implies tv: got %s", got)
	}
	if got := (tmdb.Result{Title: "Heat"}).Kind(media.KindMovie); got != media.KindMovie {
		t.Errorf("fallback: got %s", got)
	}
}
