package scan

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLCache is a Cache over the file_hash_cache table. A row is valid only
// while both size and mtime still match; any change is a miss and the next
// Put overwrites it.
type SQLCache struct {
	db  *sql.DB
	now func() time.Time
}

var _ Cache = (*SQLCache)(nil)

// NewSQLCache returns a cache backed by db, which must have the client
// migrations applied.
func NewSQLCache(db *sql.DB) *SQLCache {
	return &SQLCache{db: db, now: time.Now}
}

// Get looks c up by (path, size, mtime). A hit refreshes cached_at so
// files seen by every scan are never pruned. When only the refresh fails the
// hit is still reported along with the error.
func (s *SQLCache) Get(ctx context.Context, c Candidate) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT file_hash FROM file_hash_cache WHERE path = ? AND size = ? AND mtime = ?`,
		c.Path, c.Size, c.ModTime.Unix(),
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE file_hash_cache SET cached_at = ? WHERE path = ?`,
		s.now().Unix(), c.Path,
	); err != nil {
		return hash, true, err
	}
	return hash, true, nil
}

// Put stores or replaces the entry for c.Path.
func (s *SQLCache) Put(ctx context.Context, c Candidate, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_hash_cache (path, size, mtime, file_hash, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size      = excluded.size,
			mtime     = excluded.mtime,
			file_hash = excluded.file_hash,
			cached_at = excluded.cached_at`,
		c.Path, c.Size, c.ModTime.Unix(), hash, s.now().Unix())
	return err
}

// Prune removes entries neither stored nor hit since before. Returns rows
// deleted.
func (s *SQLCache) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_hash_cache WHERE cached_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
