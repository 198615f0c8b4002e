package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/mediaid/internal/fingerprint"
	"github.com/eargollo/mediaid/internal/resolve"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// Fingerprints is the hash lookup/submit surface. Both fingerprint.Store and
// hashclient.Client satisfy it.
type Fingerprints interface {
	Lookup(ctx context.Context, hash string) (*fingerprint.Record, error)
	Submit(ctx context.Context, sub fingerprint.Submission) (*fingerprint.SubmitResult, error)
}

// Resolver turns a parsed file name into a metadata match.
type Resolver interface {
	Resolve(ctx context.Context, q resolve.Query) (*resolve.Match, error)
}

// Sink receives every Result of a scan, in completion order, from a single
// goroutine.
type Sink interface {
	Accept(r Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result)

// Accept calls f(r).
func (f SinkFunc) Accept(r Result) { f(r) }

// Deps are the collaborators of an Orchestrator. Enumerator, Hasher,
// Fingerprints and Resolver are required.
type Deps struct {
	Enumerator   Enumerator
	Hasher       Hasher
	Fingerprints Fingerprints
	Resolver     Resolver
	// Sink is optional.
	Sink Sink
	// DB is optional; when set every run is recorded in scan_history and
	// scan_errors.
	DB     *sql.DB
	Logger *slog.Logger
}

// Options are the per-run scan parameters.
type Options struct {
	Roots     []string
	Excludes  []string
	Walkers   int
	Hashers   int
	Resolvers int
}

// DefaultOptions returns sensible worker counts for roots.
func DefaultOptions(roots ...string) Options {
	return Options{
		Roots:     roots,
		Walkers:   4,
		Hashers:   4,
		Resolvers: 2,
	}
}

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	RunID       string
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// run is the private state of one scan.
type run struct {
	ActiveScan
	historyID int64
	cancel    context.CancelFunc
	// gate orders submissions against Cancel: submitters hold it shared
	// and re-check the context, Cancel takes it exclusively after
	// cancelling.
	gate sync.RWMutex
	done chan struct{}
}

// Orchestrator enforces a single-active-scan invariant and exposes
// start/cancel/progress. It is safe for concurrent use.
type Orchestrator struct {
	mu     sync.Mutex
	deps   Deps
	opts   Options
	logger *slog.Logger

	active *run
	// last is the most recent run, active or finished.
	last *run
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Enumerator == nil:
		return nil, errors.New("scan: enumerator required")
	case deps.Hasher == nil:
		return nil, errors.New("scan: hasher required")
	case deps.Fingerprints == nil:
		return nil, errors.New("scan: fingerprint store required")
	case deps.Resolver == nil:
		return nil, errors.New("scan: resolver required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "scan"),
	}, nil
}

// UpdateOptions replaces the roots, excludes and worker counts used for
// future scans. It does NOT affect a currently running scan.
func (o *Orchestrator) UpdateOptions(opts Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts = opts
}

// begin registers a new run or returns ErrAlreadyRunning.
func (o *Orchestrator) begin(parentCtx context.Context, triggeredBy string) (*run, context.Context, Options, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		return nil, nil, Options{}, ErrAlreadyRunning
	}

	startedAt := time.Now()
	r := &run{
		ActiveScan: ActiveScan{
			RunID:       uuid.NewString(),
			StartedAt:   startedAt,
			TriggeredBy: triggeredBy,
			Progress:    newProgress(startedAt),
		},
		done: make(chan struct{}),
	}

	// Create the scan_history record NOW so a crash mid-scan leaves a
	// 'running' row for MarkStaleScansFailed.
	if o.deps.DB != nil {
		id, err := insertScanRecord(parentCtx, o.deps.DB, r.RunID, o.opts.Roots, triggeredBy, startedAt)
		if err != nil {
			return nil, nil, Options{}, fmt.Errorf("create scan record: %w", err)
		}
		r.historyID = id
	}

	ctx, cancel := context.WithCancel(parentCtx)
	r.cancel = cancel
	o.active = r
	o.last = r
	return r, ctx, o.opts, nil
}

func (o *Orchestrator) finish(r *run) {
	r.cancel()
	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()
	close(r.done)
}

// Run executes one scan synchronously. It returns the report and, for a
// non-completed scan, the reason: an errs.ErrFatalConnect error or the
// context error after cancellation.
func (o *Orchestrator) Run(ctx context.Context, triggeredBy string) (*Report, error) {
	r, runCtx, opts, err := o.begin(ctx, triggeredBy)
	if err != nil {
		return nil, err
	}
	defer o.finish(r)
	return o.execute(runCtx, r, opts)
}

// Start launches an asynchronous scan. Returns an ActiveScan snapshot or
// ErrAlreadyRunning if a scan is already in progress. Cancelling parentCtx
// cancels the scan.
func (o *Orchestrator) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	r, runCtx, opts, err := o.begin(parentCtx, triggeredBy)
	if err != nil {
		return nil, err
	}

	go func() {
		defer o.finish(r)
		if _, err := o.execute(runCtx, r, opts); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("scan run error", "run_id", r.RunID, "error", err)
		}
	}()

	snap := r.ActiveScan
	return &snap, nil
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
// Once Cancel returns, the scan submits nothing further.
func (o *Orchestrator) Cancel() (*ActiveScan, error) {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()

	if r == nil {
		return nil, ErrNoActiveScan
	}

	r.cancel()
	// Wait out submissions that passed their context check before cancel.
	r.gate.Lock()
	r.gate.Unlock()

	snap := r.ActiveScan
	return &snap, nil
}

// Wait blocks until the active scan, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

// Active returns a snapshot of the running scan, or nil when idle.
func (o *Orchestrator) Active() *ActiveScan {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	snap := o.active.ActiveScan
	return &snap
}

// Progress reports the running scan, or the last one when idle. Before the
// first scan the phase is PhaseIdle.
func (o *Orchestrator) Progress() Snapshot {
	o.mu.Lock()
	r := o.last
	o.mu.Unlock()
	if r == nil {
		return Snapshot{Phase: PhaseIdle}
	}
	return r.Progress.Snapshot()
}

// MarkStaleScansFailed marks any scan_history rows still in 'running' state
// as 'error'. This should be called once at startup in case a previous
// process crashed mid-scan.
func MarkStaleScansFailed(ctx context.Context, db *sql.DB) error {
	res, err := db.ExecContext(ctx, `
		UPDATE scan_history
		SET status = ?, finished_at = ?
		WHERE status = 'running'`,
		string(PhaseError), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale scans failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scans as failed", "count", n)
	}
	return nil
}
