// Package scan walks a media library, fingerprints every media file, and
// identifies it through the fingerprint store or, on a miss, by title
// search, contributing new identifications back to the store.
package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/fingerprint"
	"github.com/eargollo/mediaid/internal/media"
	"github.com/eargollo/mediaid/internal/resolve"
)

// Method names how a Result was identified.
type Method string

const (
	MethodHashExact  Method = "hash_exact"
	MethodTitleExact Method = "title_exact"
	MethodTitleFuzzy Method = "title_fuzzy"
	MethodUnresolved Method = "unresolved"
)

// Result is the outcome for one candidate.
type Result struct {
	Candidate Candidate
	// Hash is empty when hashing failed.
	Hash       string
	Metadata   fingerprint.MediaData // nil when unresolved
	Method     Method
	Confidence float64
	// Submitted is set when the identification was contributed to the
	// fingerprint store during this scan.
	Submitted bool
	Err       error
}

// Report summarises a finished scan.
type Report struct {
	RunID       string
	Phase       Phase
	StartedAt   time.Time
	FinishedAt  time.Time
	Directories int64
	Candidates  int
	HashHits    int
	Resolved    int
	Unresolved  int
	Submitted   int
	Errors      []string
	Results     []Result
}

// pipeline carries the state of one execution. All fields are touched only
// by the orchestrator goroutine; workers hand their results back over
// channels.
type pipeline struct {
	o        *Orchestrator
	r        *run
	opts     Options
	rep      *Report
	progress *Progress
	dirs     int64
}

// execute runs the pipeline for an already-registered run and records the
// outcome in the report, the progress and scan_history.
func (o *Orchestrator) execute(ctx context.Context, r *run, opts Options) (*Report, error) {
	o.logger.Info("scan started", "run_id", r.RunID, "triggered_by", r.TriggeredBy, "roots", opts.Roots)

	p := &pipeline{
		o:        o,
		r:        r,
		opts:     opts,
		rep:      &Report{RunID: r.RunID, StartedAt: r.StartedAt},
		progress: r.Progress,
	}
	runErr := p.run(ctx)

	// Determine final status.
	phase := PhaseCompleted
	switch {
	case runErr != nil && errors.Is(runErr, errs.ErrFatalConnect):
		phase = PhaseError
	case ctx.Err() != nil:
		phase = PhaseCancelled
		runErr = ctx.Err()
	case runErr != nil:
		phase = PhaseError
	}
	p.progress.setPhase(phase)

	p.rep.Phase = phase
	p.rep.FinishedAt = time.Now()

	if db := o.deps.DB; db != nil {
		if err := finaliseScanRecord(context.WithoutCancel(ctx), db, r.historyID, p.rep); err != nil {
			o.logger.Error("finalise scan record", "run_id", r.RunID, "error", err)
		}
	}

	o.logger.Info("scan finished", "run_id", r.RunID, "status", phase,
		"directories", p.rep.Directories,
		"candidates", p.rep.Candidates,
		"hash_hits", p.rep.HashHits,
		"resolved", p.rep.Resolved,
		"submitted", p.rep.Submitted,
		"errors", len(p.rep.Errors))

	return p.rep, runErr
}

// run drives the phases in order, stopping at the first one interrupted by
// cancellation.
func (p *pipeline) run(ctx context.Context) error {
	if err := p.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.reportError(err)
		return err
	}

	candidates := p.discover(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	misses := p.process(ctx, candidates)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.scrape(ctx, misses)
	return ctx.Err()
}

// connect checks every root is reachable.
func (p *pipeline) connect(ctx context.Context) error {
	p.progress.setPhase(PhaseConnecting)
	if len(p.opts.Roots) == 0 {
		return errs.Wrap(errs.ErrFatalConnect, "connecting", "", "", errors.New("no scan roots configured"))
	}

	en := p.o.deps.Enumerator
	for _, root := range p.opts.Roots {
		p.progress.update(func(s *Snapshot) { s.CurrentItem = root })
		var err error
		if pinger, ok := en.(Pinger); ok {
			err = pinger.Ping(ctx, root)
		} else {
			_, err = en.List(ctx, root)
		}
		if err != nil {
			return errs.Wrap(errs.ErrFatalConnect, "connecting", "reach", root, err)
		}
	}
	return nil
}

// discover walks all roots and collects media candidates. Directories that
// fail to list are reported and skipped.
func (p *pipeline) discover(ctx context.Context) []Candidate {
	p.progress.setPhase(PhaseDiscovering)

	excludes := make(map[string]struct{}, len(p.opts.Excludes))
	for _, e := range p.opts.Excludes {
		excludes[e] = struct{}{}
	}

	known := int64(len(p.opts.Roots))
	p.progress.update(func(s *Snapshot) {
		s.Total = known
		s.ScanTotal = known
	})

	listings := make(chan dirListing, 64)
	go Walk(ctx, p.o.deps.Enumerator, p.opts.Roots, excludes, p.opts.Walkers, listings)

	var candidates []Candidate
	for l := range listings {
		p.dirs++
		known += int64(l.Subdirs)
		if l.Err != nil {
			p.reportError(l.Err)
		}
		candidates = append(candidates, l.Candidates...)

		visited, found := p.dirs, int64(len(candidates))
		p.progress.update(func(s *Snapshot) {
			s.Current = visited
			s.Total = known
			s.CurrentItem = l.Dir
			s.ScanCurrent = visited
			s.ScanTotal = known + found
		})
	}

	p.rep.Directories = p.dirs
	p.rep.Candidates = len(candidates)
	return candidates
}

// lookedUp is a hashed candidate and what the fingerprint store knew.
type lookedUp struct {
	c         Candidate
	hash      string
	rec       *fingerprint.Record
	hashErr   error
	lookupErr error
}

// process hashes every candidate and looks it up, emitting hash hits and
// returning the misses.
func (p *pipeline) process(ctx context.Context, candidates []Candidate) []lookedUp {
	p.progress.setPhase(PhaseProcessing)
	total := int64(len(candidates))
	p.progress.update(func(s *Snapshot) {
		s.Current = 0
		s.Total = total
		s.ScanTotal = p.dirs + total
	})

	out := make(chan lookedUp)
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(max(p.opts.Hashers, 1))
		for _, c := range candidates {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if lu, ok := p.lookup(ctx, c); ok {
					out <- lu
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var misses []lookedUp
	var done int64
	for lu := range out {
		done++
		n := done
		p.progress.update(func(s *Snapshot) {
			s.Current = n
			s.CurrentItem = lu.c.Path
			s.ScanCurrent = p.dirs + n
		})

		switch {
		case lu.hashErr != nil:
			p.reportError(lu.hashErr)
			p.emit(Result{Candidate: lu.c, Method: MethodUnresolved, Err: lu.hashErr})
		case lu.rec != nil:
			p.emit(Result{
				Candidate:  lu.c,
				Hash:       lu.hash,
				Metadata:   lu.rec.MediaData,
				Method:     MethodHashExact,
				Confidence: lu.rec.Confidence,
			})
		default:
			if lu.lookupErr != nil {
				p.reportError(lu.lookupErr)
			}
			misses = append(misses, lu)
		}
	}
	return misses
}

// lookup runs on a worker. ok is false when the candidate was skipped
// because the scan was cancelled.
func (p *pipeline) lookup(ctx context.Context, c Candidate) (lookedUp, bool) {
	if ctx.Err() != nil {
		return lookedUp{}, false
	}
	lu := lookedUp{c: c}

	hash, err := p.o.deps.Hasher.Hash(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return lookedUp{}, false
		}
		lu.hashErr = errs.Wrap(errs.ErrEnumeration, "processing", "hash", c.Path, err)
		return lu, true
	}
	lu.hash = hash

	rec, err := p.o.deps.Fingerprints.Lookup(ctx, hash)
	switch {
	case err == nil:
		lu.rec = rec
	case errors.Is(err, errs.ErrNotFound):
	case ctx.Err() != nil:
		return lookedUp{}, false
	default:
		lu.lookupErr = fmt.Errorf("processing: lookup %s: %w", c.Path, err)
	}
	return lu, true
}

// scrape resolves every miss by title and submits what it finds.
func (p *pipeline) scrape(ctx context.Context, misses []lookedUp) {
	p.progress.setPhase(PhaseScraping)
	total := int64(len(misses))
	p.progress.update(func(s *Snapshot) {
		s.Current = 0
		s.Total = total
		s.ScrapeTotal = total
	})

	out := make(chan Result)
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(max(p.opts.Resolvers, 1))
		for _, lu := range misses {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if res, ok := p.resolveOne(ctx, lu); ok {
					out <- res
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var done int64
	for res := range out {
		done++
		n := done
		p.progress.update(func(s *Snapshot) {
			s.Current = n
			s.CurrentItem = res.Candidate.Path
			s.ScrapeCurrent = n
		})
		if res.Err != nil {
			p.reportError(res.Err)
		}
		p.emit(res)
	}
}

// resolveOne runs on a worker. ok is false when the candidate was skipped
// because the scan was cancelled.
func (p *pipeline) resolveOne(ctx context.Context, lu lookedUp) (Result, bool) {
	if ctx.Err() != nil {
		return Result{}, false
	}
	c := lu.c
	res := Result{Candidate: c, Hash: lu.hash, Method: MethodUnresolved}

	name := media.ParseName(c.Name)
	m, err := p.o.deps.Resolver.Resolve(ctx, resolve.Query{
		RawTitle: name.Title,
		Year:     name.Year,
		Kind:     c.Kind,
		Path:     c.Path,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, false
		}
		res.Err = fmt.Errorf("scraping: %s: %w", c.Path, err)
		return res, true
	}
	if m == nil {
		return res, true
	}

	res.Metadata = mediaDataFor(m, c, name)
	res.Method = Method(m.Method())
	res.Confidence = m.Confidence()

	submitted, err := p.submit(ctx, fingerprint.Submission{
		Hash:       lu.hash,
		MediaData:  res.Metadata,
		Confidence: res.Confidence,
	})
	switch {
	case err != nil:
		res.Err = fmt.Errorf("scraping: submit %s: %w", c.Path, err)
	case !submitted:
		// Cancelled between resolution and submission.
		return Result{}, false
	}
	res.Submitted = submitted
	return res, true
}

// submit contributes an identification unless the scan has been cancelled.
// It reports false with a nil error when cancellation prevented the submit.
func (p *pipeline) submit(ctx context.Context, sub fingerprint.Submission) (bool, error) {
	p.r.gate.RLock()
	defer p.r.gate.RUnlock()
	if ctx.Err() != nil {
		return false, nil
	}
	if _, err := p.o.deps.Fingerprints.Submit(ctx, sub); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// mediaDataFor builds the metadata contributed for a match. The parsed file
// title stands in when the provider result carries none.
func mediaDataFor(m *resolve.Match, c Candidate, name media.Name) fingerprint.MediaData {
	title := m.Result.DisplayTitle()
	if title == "" {
		title = name.Title
	}
	md := fingerprint.MediaData{
		"title": title,
		"kind":  m.Result.Kind(c.Kind).String(),
	}
	if m.Result.ID != 0 {
		md["tmdbId"] = m.Result.ID
	}
	if y := m.Result.Year(); y != "" {
		md["year"] = y
	}
	if m.Result.Overview != "" {
		md["overview"] = m.Result.Overview
	}
	if m.Result.PosterPath != "" {
		md["posterPath"] = m.Result.PosterPath
	}
	if name.Season > 0 {
		md["season"] = name.Season
	}
	if name.Episode > 0 {
		md["episode"] = name.Episode
	}
	return md
}

// emit records a result in the report and hands it to the sink.
func (p *pipeline) emit(res Result) {
	switch {
	case res.Method == MethodHashExact:
		p.rep.HashHits++
	case res.Method == MethodUnresolved:
		p.rep.Unresolved++
	default:
		p.rep.Resolved++
	}
	if res.Submitted {
		p.rep.Submitted++
	}
	p.rep.Results = append(p.rep.Results, res)
	if p.o.deps.Sink != nil {
		p.o.deps.Sink.Accept(res)
	}
}

// reportError records a per-item failure: appends it to the progress and
// the report, emits a structured warning log, and persists it to
// scan_errors when history is enabled.
func (p *pipeline) reportError(err error) {
	msg := err.Error()
	p.progress.addError(msg)
	p.rep.Errors = append(p.rep.Errors, msg)
	p.o.logger.Warn("scan error", "run_id", p.r.RunID, "error", err)

	if db := p.o.deps.DB; db != nil {
		if dbErr := insertScanError(db, p.r.historyID, msg, time.Now()); dbErr != nil {
			p.o.logger.Warn("record scan error", "run_id", p.r.RunID, "error", dbErr)
		}
	}
}

// ── DB helpers ────────────────────────────────────────────────────────────────

func insertScanRecord(ctx context.Context, db *sql.DB, runID string, roots []string, triggeredBy string, startedAt time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO scan_history
			(run_id, root, triggered_by, status, started_at)
		VALUES (?, ?, ?, 'running', ?)`,
		runID, strings.Join(roots, ","), triggeredBy, startedAt.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func finaliseScanRecord(ctx context.Context, db *sql.DB, scanID int64, rep *Report) error {
	_, err := db.ExecContext(ctx, `
		UPDATE scan_history
		SET status           = ?,
		    finished_at      = ?,
		    duration_seconds = ?,
		    directories      = ?,
		    candidates       = ?,
		    hash_hits        = ?,
		    resolved         = ?,
		    unresolved       = ?,
		    submitted        = ?,
		    errors           = ?
		WHERE id = ?`,
		string(rep.Phase),
		rep.FinishedAt.Unix(),
		int64(rep.FinishedAt.Sub(rep.StartedAt).Seconds()),
		rep.Directories,
		rep.Candidates,
		rep.HashHits,
		rep.Resolved,
		rep.Unresolved,
		rep.Submitted,
		len(rep.Errors),
		scanID)
	return err
}

func insertScanError(db *sql.DB, scanID int64, msg string, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO scan_errors (scan_id, message, occurred_at) VALUES (?, ?, ?)`,
		scanID, msg, at.Unix())
	return err
}

// HistoryEntry is one scan_history row.
type HistoryEntry struct {
	ID          int64
	RunID       string
	Root        string
	TriggeredBy string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Candidates  int64
	HashHits    int64
	Resolved    int64
	Unresolved  int64
	Submitted   int64
	Errors      int64
}

// RecentScans returns up to limit scan_history rows, newest first.
func RecentScans(ctx context.Context, db *sql.DB, limit int) ([]HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, run_id, root, triggered_by, status, started_at, finished_at,
		       candidates, hash_hits, resolved, unresolved, submitted, errors
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Root, &e.TriggeredBy, &e.Status, &started, &finished,
			&e.Candidates, &e.HashHits, &e.Resolved, &e.Unresolved, &e.Submitted, &e.Errors); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			e.FinishedAt = time.Unix(finished.Int64, 0)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
