package fingerprint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eargollo/mediaid/internal/db"
	"github.com/eargollo/mediaid/internal/errs"
)

// statsWindow is the trailing window for Stats.RecentSubmissions.
const statsWindow = 7 * 24 * time.Hour

// contributorBucketLen truncates submitter tags before grouping them.
const contributorBucketLen = 8

// Store is the SQLite-backed fingerprint store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore returns a Store over an already-migrated database.
func NewStore(database *sql.DB, opts ...Option) *Store {
	s := &Store{db: database, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "fingerprint")
	return s
}

const selectRecord = `
	SELECT file_hash, media_data, confidence, submission_count, query_count,
	       created_at, last_updated, last_queried, last_submitter_tag
	FROM hash_matches WHERE file_hash = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                   Record
		payload               string
		createdAt, lastUpdate int64
		lastQueried           sql.NullInt64
	)
	if err := row.Scan(&rec.Hash, &payload, &rec.Confidence, &rec.SubmissionCount, &rec.QueryCount,
		&createdAt, &lastUpdate, &lastQueried, &rec.LastSubmitterTag); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.MediaData); err != nil {
		return nil, fmt.Errorf("decode media_data: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.LastUpdated = time.Unix(lastUpdate, 0).UTC()
	if lastQueried.Valid {
		rec.LastQueried = time.Unix(lastQueried.Int64, 0).UTC()
	}
	return &rec, nil
}

// Lookup returns the record for hash or an errs.ErrNotFound error. A hit bumps
// query_count and last_queried; failing to do so is logged, not returned.
func (s *Store) Lookup(ctx context.Context, hash string) (*Record, error) {
	hash, err := NormalizeHash(hash)
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "", "lookup", hash, nil)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "", "lookup", hash, err)
	}

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE hash_matches
		SET query_count = query_count + 1, last_queried = ?
		WHERE file_hash = ?`, now.Unix(), hash); err != nil {
		s.logger.Warn("lookup: bump query counters", "hash", hash, "error", err)
	} else {
		rec.QueryCount++
		rec.LastQueried = time.Unix(now.Unix(), 0).UTC()
	}
	return rec, nil
}

// Submit validates sub and merges it into the stored record inside one
// transaction. Every accepted submission bumps submission_count and writes a
// submission_history row; history failures are logged and swallowed.
func (s *Store) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	hash, err := validateSubmission(sub)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(sub.MediaData)
	if err != nil {
		return nil, errs.Validation(hash, "mediaData is not serialisable: %v", err)
	}

	now := time.Unix(s.now().Unix(), 0).UTC()
	var res SubmitResult

	err = db.Tx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := scanRecord(tx.QueryRowContext(ctx, selectRecord, hash))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO hash_matches
					(file_hash, media_data, confidence, submission_count, query_count,
					 created_at, last_updated, last_submitter_tag)
				VALUES (?, ?, ?, 1, 0, ?, ?, ?)`,
				hash, string(payload), sub.Confidence, now.Unix(), now.Unix(), sub.SubmitterTag); err != nil {
				return fmt.Errorf("insert: %w", err)
			}
			res.Action = ActionCreated
			res.Record = &Record{
				Hash:             hash,
				MediaData:        sub.MediaData,
				Confidence:       sub.Confidence,
				SubmissionCount:  1,
				CreatedAt:        now,
				LastUpdated:      now,
				LastSubmitterTag: sub.SubmitterTag,
			}
			return nil
		case err != nil:
			return fmt.Errorf("select: %w", err)
		}

		existing.SubmissionCount++
		if ShouldUpdate(existing.Confidence, sub.Confidence, sub.MediaData.FieldCount()) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE hash_matches
				SET media_data = ?, confidence = ?, submission_count = submission_count + 1,
				    last_updated = ?, last_submitter_tag = ?
				WHERE file_hash = ?`,
				string(payload), sub.Confidence, now.Unix(), sub.SubmitterTag, hash); err != nil {
				return fmt.Errorf("update: %w", err)
			}
			existing.MediaData = sub.MediaData
			existing.Confidence = sub.Confidence
			existing.LastUpdated = now
			existing.LastSubmitterTag = sub.SubmitterTag
			res.Action = ActionUpdated
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE hash_matches SET submission_count = submission_count + 1
				WHERE file_hash = ?`, hash); err != nil {
				return fmt.Errorf("acknowledge: %w", err)
			}
			res.Action = ActionAcknowledged
		}
		res.Record = existing
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "", "submit", hash, err)
	}

	s.recordEvent(ctx, hash, sub, res.Action, now)
	s.logger.Debug("submission merged", "hash", hash, "action", res.Action,
		"confidence", sub.Confidence, "submission_count", res.Record.SubmissionCount)
	return &res, nil
}

func (s *Store) recordEvent(ctx context.Context, hash string, sub Submission, action Action, at time.Time) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_history
			(file_hash, title, kind, confidence, action, submitter_tag, user_agent, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hash, sub.MediaData.Title(), sub.MediaData.Kind(), sub.Confidence, string(action),
		sub.SubmitterTag, sub.UserAgent, at.Unix())
	if err != nil {
		s.logger.Warn("submission history write failed", "hash", hash, "action", action, "error", err)
	}
}

// Stats returns aggregate counters over both tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(confidence), 0), COALESCE(SUM(query_count), 0)
		FROM hash_matches`).Scan(&st.TotalHashes, &st.AverageConfidence, &st.TotalQueries); err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "", "stats", "hash_matches", err)
	}

	since := s.now().Add(-statsWindow).Unix()
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN submitted_at >= ? THEN 1 ELSE 0 END), 0)
		FROM submission_history`, since).Scan(&st.TotalSubmissions, &st.RecentSubmissions); err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "", "stats", "submission_history", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(submitter_tag, 1, ?) AS bucket, COUNT(*) AS n
		FROM submission_history
		WHERE submitter_tag != ''
		GROUP BY bucket
		ORDER BY n DESC, bucket ASC
		LIMIT 10`, contributorBucketLen)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "", "stats", "contributors", err)
	}
	defer rows.Close()

	st.TopContributors = []Contributor{}
	for rows.Next() {
		var c Contributor
		if err := rows.Scan(&c.Bucket, &c.Submissions); err != nil {
			return nil, errs.Wrap(errs.ErrStorage, "", "stats", "contributors", err)
		}
		st.TopContributors = append(st.TopContributors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "", "stats", "contributors", err)
	}
	return &st, nil
}
