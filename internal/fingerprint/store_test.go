package fingerprint

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/eargollo/mediaid/internal/db"
	"github.com/eargollo/mediaid/internal/errs"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	database, err := internaldb.Open(filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(context.Background(), database); err != nil {
		database.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { database.Close() })
	return database
}

// fixedClock returns a clock that can be advanced by tests.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *sql.DB, *fixedClock) {
	t.Helper()
	database := mustOpenDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(database, WithClock(clock.Now)), database, clock
}

var hashA = strings.Repeat("a", 32)

func movie(title string) MediaData {
	return MediaData{"title": title, "kind": "movie"}
}

func TestSubmitCreatesThenLookupReturnsRecord(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	res, err := store.Submit(ctx, Submission{Hash: strings.ToUpper(hashA), MediaData: movie("X"), Confidence: 0.9, SubmitterTag: "client-1"})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, int64(1), res.Record.SubmissionCount)
	assert.Equal(t, hashA, res.Record.Hash)

	clock.Advance(time.Minute)
	rec, err := store.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, "X", rec.MediaData.Title())
	assert.Equal(t, 0.9, rec.Confidence)
	assert.Equal(t, int64(1), rec.QueryCount)
	assert.Equal(t, clock.Now().Unix(), rec.LastQueried.Unix())
	assert.Equal(t, "client-1", rec.LastSubmitterTag)

	rec, err = store.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.QueryCount)
}

func TestLookupMiss(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Lookup(context.Background(), strings.Repeat("b", 32))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = store.Lookup(context.Background(), "short")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSubmitSequenceFollowsMergePolicy(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	res, err := store.Submit(ctx, Submission{Hash: hashA, MediaData: movie("X"), Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	// Within 0.1 and not richer: acknowledged.
	res, err = store.Submit(ctx, Submission{Hash: hashA, MediaData: movie("Y"), Confidence: 0.95})
	require.NoError(t, err)
	assert.Equal(t, ActionAcknowledged, res.Action)
	assert.Equal(t, "X", res.Record.MediaData.Title())
	assert.Equal(t, 0.9, res.Record.Confidence)
	assert.Equal(t, int64(2), res.Record.SubmissionCount)

	// 1.0 is exactly stored+0.1: still acknowledged.
	res, err = store.Submit(ctx, Submission{Hash: hashA, MediaData: movie("Z"), Confidence: 1.0})
	require.NoError(t, err)
	assert.Equal(t, ActionAcknowledged, res.Action)

	// Comparable confidence with a richer payload: updated.
	rich := MediaData{"title": "Rich", "kind": "movie", "year": "2010", "tmdbId": float64(27205)}
	res, err = store.Submit(ctx, Submission{Hash: hashA, MediaData: rich, Confidence: 0.92})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, int64(4), res.Record.SubmissionCount)

	rec, err := store.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, "Rich", rec.MediaData.Title())
	assert.Equal(t, 0.92, rec.Confidence)
	assert.Equal(t, int64(4), rec.SubmissionCount)
}

func TestSubmitBoundary(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	hash := strings.Repeat("c", 32)

	_, err := store.Submit(ctx, Submission{Hash: hash, MediaData: movie("Base"), Confidence: 0.7})
	require.NoError(t, err)

	res, err := store.Submit(ctx, Submission{Hash: hash, MediaData: movie("Edge"), Confidence: 0.8})
	require.NoError(t, err)
	assert.Equal(t, ActionAcknowledged, res.Action)

	res, err = store.Submit(ctx, Submission{Hash: hash, MediaData: movie("Above"), Confidence: 0.801})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, "Above", res.Record.MediaData.Title())
}

func TestResubmissionIsIdempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	sub := Submission{Hash: hashA, MediaData: movie("Same"), Confidence: 0.8}

	_, err := store.Submit(ctx, sub)
	require.NoError(t, err)
	first, err := store.Lookup(ctx, hashA)
	require.NoError(t, err)

	res, err := store.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, ActionAcknowledged, res.Action)

	second, err := store.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, first.MediaData, second.MediaData)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.LastUpdated, second.LastUpdated)
	assert.Equal(t, first.SubmissionCount+1, second.SubmissionCount)
}

func TestSubmitValidation(t *testing.T) {
	store, database, _ := newTestStore(t)
	ctx := context.Background()

	cases := []Submission{
		{Hash: "zz" + strings.Repeat("a", 30), MediaData: movie("X"), Confidence: 0.9},
		{Hash: strings.Repeat("a", 31), MediaData: movie("X"), Confidence: 0.9},
		{Hash: hashA, MediaData: movie("X"), Confidence: 0.49},
		{Hash: hashA, MediaData: movie("X"), Confidence: 1.01},
		{Hash: hashA, MediaData: MediaData{"kind": "movie"}, Confidence: 0.9},
		{Hash: hashA, MediaData: MediaData{"title": "X"}, Confidence: 0.9},
		{Hash: hashA, Confidence: 0.9},
	}
	for i, sub := range cases {
		_, err := store.Submit(ctx, sub)
		assert.ErrorIs(t, err, errs.ErrValidation, "case %d", i)
	}

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM hash_matches`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM submission_history`).Scan(&n))
	assert.Zero(t, n)
}

func TestSubmissionHistoryRecordsActualAction(t *testing.T) {
	store, database, _ := newTestStore(t)
	ctx := context.Background()

	for _, c := range []float64{0.6, 0.65, 0.9} {
		_, err := store.Submit(ctx, Submission{Hash: hashA, MediaData: movie("X"), Confidence: c, SubmitterTag: "tag", UserAgent: "test"})
		require.NoError(t, err)
	}

	rows, err := database.Query(`SELECT action FROM submission_history ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var actions []string
	for rows.Next() {
		var a string
		require.NoError(t, rows.Scan(&a))
		actions = append(actions, a)
	}
	assert.Equal(t, []string{"created", "acknowledged", "updated"}, actions)
}

func TestHistoryFailureDoesNotFailSubmit(t *testing.T) {
	store, database, _ := newTestStore(t)
	_, err := database.Exec(`DROP TABLE submission_history`)
	require.NoError(t, err)

	res, err := store.Submit(context.Background(), Submission{Hash: hashA, MediaData: movie("X"), Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	_, err = store.Lookup(context.Background(), hashA)
	assert.NoError(t, err)
}

func TestConcurrentSubmitsSameHashLoseNoCounts(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Submit(ctx, Submission{
				Hash:       hashA,
				MediaData:  movie(fmt.Sprintf("T%d", i)),
				Confidence: 0.5 + float64(i%5)*0.1,
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	rec, err := store.Lookup(ctx, hashA)
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.SubmissionCount)
	assert.GreaterOrEqual(t, rec.Confidence, MinConfidence)
	assert.LessOrEqual(t, rec.Confidence, MaxConfidence)
}

func TestStats(t *testing.T) {
	store, _, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.Submit(ctx, Submission{Hash: hashA, MediaData: movie("A"), Confidence: 0.6, SubmitterTag: "aaaaaaaa-1111"})
	require.NoError(t, err)
	clock.Advance(8 * 24 * time.Hour)
	_, err = store.Submit(ctx, Submission{Hash: strings.Repeat("b", 32), MediaData: movie("B"), Confidence: 1.0, SubmitterTag: "aaaaaaaa-2222"})
	require.NoError(t, err)
	_, err = store.Submit(ctx, Submission{Hash: strings.Repeat("b", 32), MediaData: movie("B"), Confidence: 1.0, SubmitterTag: "bbbbbbbb"})
	require.NoError(t, err)
	_, err = store.Lookup(ctx, hashA)
	require.NoError(t, err)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalHashes)
	assert.Equal(t, int64(3), st.TotalSubmissions)
	assert.Equal(t, int64(2), st.RecentSubmissions)
	assert.Equal(t, int64(1), st.TotalQueries)
	assert.InDelta(t, 0.8, st.AverageConfidence, 1e-9)
	require.Len(t, st.TopContributors, 2)
	assert.Equal(t, Contributor{Bucket: "aaaaaaaa", Submissions: 2}, st.TopContributors[0])
	assert.Equal(t, Contributor{Bucket: "bbbbbbbb", Submissions: 1}, st.TopContributors[1])
}
