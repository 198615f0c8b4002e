package scan

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	internaldb "github.com/eargollo/mediaid/internal/db"
	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/fingerprint"
	"github.com/eargollo/mediaid/internal/resolve"
	"github.com/eargollo/mediaid/internal/tmdb"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

var fixedMTime = time.Unix(1_700_000_000, 0)

func file(name string, size int64) Entry {
	return Entry{Name: name, Size: size, ModTime: fixedMTime}
}

func dir(name string) Entry {
	return Entry{Name: name, IsDir: true}
}

// memEnumerator is an in-memory Enumerator keyed by directory path.
type memEnumerator struct {
	dirs    map[string][]Entry
	fail    map[string]error
	pingErr error
	// hook, when set, runs at the start of every List call.
	hook func(ctx context.Context, path string)

	mu     sync.Mutex
	listed []string
}

func (m *memEnumerator) Ping(_ context.Context, root string) error {
	if m.pingErr != nil {
		return m.pingErr
	}
	if _, ok := m.dirs[root]; !ok {
		return os.ErrNotExist
	}
	return nil
}

func (m *memEnumerator) List(ctx context.Context, path string) ([]Entry, error) {
	if m.hook != nil {
		m.hook(ctx, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.listed = append(m.listed, path)
	m.mu.Unlock()
	if err := m.fail[path]; err != nil {
		return nil, err
	}
	entries, ok := m.dirs[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return entries, nil
}

func (m *memEnumerator) Listed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.listed...)
}

// library is a small tree: three subdirectories, one of which cannot be
// listed, holding three media files and some noise.
func library() *memEnumerator {
	return &memEnumerator{
		dirs: map[string][]Entry{
			"/lib": {dir("Movies"), dir("TV"), dir("Broken"), file("readme.txt", 10)},
			"/lib/Movies": {
				file("Inception (2010).mkv", 1000),
				file("Heat (1995).mp4", 2000),
				file("Heat (1995).nfo", 5),
			},
			"/lib/TV":     {file("Show.S01E01.mkv", 3000)},
			"/lib/Broken": {file("Lost (2004).mkv", 4000)},
		},
		fail: map[string]error{"/lib/Broken": os.ErrPermission},
	}
}

// memFingerprints is an in-memory Fingerprints.
type memFingerprints struct {
	mu        sync.Mutex
	records   map[string]*fingerprint.Record
	submits   []fingerprint.Submission
	lookupErr error
	submitErr error
}

func newMemFingerprints() *memFingerprints {
	return &memFingerprints{records: map[string]*fingerprint.Record{}}
}

func (m *memFingerprints) Lookup(_ context.Context, hash string) (*fingerprint.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	rec, ok := m.records[hash]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "fingerprint", "lookup", hash, nil)
	}
	return rec, nil
}

func (m *memFingerprints) Submit(_ context.Context, sub fingerprint.Submission) (*fingerprint.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submits = append(m.submits, sub)
	rec := &fingerprint.Record{Hash: sub.Hash, MediaData: sub.MediaData, Confidence: sub.Confidence, SubmissionCount: 1}
	m.records[sub.Hash] = rec
	return &fingerprint.SubmitResult{Action: fingerprint.ActionCreated, Record: rec}, nil
}

func (m *memFingerprints) Submits() []fingerprint.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fingerprint.Submission(nil), m.submits...)
}

// resolverFunc adapts a function to Resolver.
type resolverFunc func(ctx context.Context, q resolve.Query) (*resolve.Match, error)

func (f resolverFunc) Resolve(ctx context.Context, q resolve.Query) (*resolve.Match, error) {
	return f(ctx, q)
}

// exactResolver matches every query exactly on title and year.
func exactResolver() resolverFunc {
	return func(_ context.Context, q resolve.Query) (*resolve.Match, error) {
		m := &resolve.Match{
			Result:     tmdb.Result{ID: 1, Title: q.RawTitle},
			Query:      q.RawTitle,
			ExactTitle: true,
		}
		if resolve.KnownYear(q.Year) {
			m.Result.ReleaseDate = q.Year + "-01-01"
			m.YearMatched = true
		}
		return m, nil
	}
}

// identityHash returns the key IdentityHasher gives the file at path.
func identityHash(tb testing.TB, path string, size int64) string {
	tb.Helper()
	h, err := IdentityHasher{}.Hash(context.Background(), Candidate{Path: path, Size: size, ModTime: fixedMTime})
	if err != nil {
		tb.Fatalf("identity hash: %v", err)
	}
	return h
}

// writeFile creates path (and its parents) with content.
func writeFile(tb testing.TB, path string, content []byte) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %q: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		tb.Fatalf("write %q: %v", path, err)
	}
}
