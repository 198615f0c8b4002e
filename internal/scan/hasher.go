package scan

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// sampleBytes is read from the head and the tail of each file.
const sampleBytes = 64 * 1024 // 64 KB

// Hasher computes the 32-hex fingerprint key of a candidate.
type Hasher interface {
	Hash(ctx context.Context, c Candidate) (string, error)
}

// ContentHasher fingerprints the file size plus its first and last
// sampleBytes. Files shorter than two samples are hashed whole.
type ContentHasher struct{}

var _ Hasher = ContentHasher{}

// Hash reads the samples of c.Path.
func (ContentHasher) Hash(ctx context.Context, c Candidate) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()

	h := md5.New()
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])

	if size <= 2*sampleBytes {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("read %s: %w", c.Path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	if _, err := io.CopyN(h, f, sampleBytes); err != nil {
		return "", fmt.Errorf("read head %s: %w", c.Path, err)
	}
	if _, err := f.Seek(-sampleBytes, io.SeekEnd); err != nil {
		return "", fmt.Errorf("seek %s: %w", c.Path, err)
	}
	if _, err := io.CopyN(h, f, sampleBytes); err != nil {
		return "", fmt.Errorf("read tail %s: %w", c.Path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IdentityHasher derives the key from path, size and mtime without reading
// the file, for enumerators whose paths are not locally readable. Keys are
// not portable between libraries.
type IdentityHasher struct{}

var _ Hasher = IdentityHasher{}

// Hash never touches the filesystem.
func (IdentityHasher) Hash(_ context.Context, c Candidate) (string, error) {
	sum := md5.Sum(fmt.Appendf(nil, "%s\x00%d\x00%d", c.Path, c.Size, c.ModTime.Unix()))
	return hex.EncodeToString(sum[:]), nil
}

// Cache remembers hashes by (path, size, mtime).
type Cache interface {
	Get(ctx context.Context, c Candidate) (hash string, ok bool, err error)
	Put(ctx context.Context, c Candidate, hash string) error
}

// CachingHasher consults a Cache before delegating to Hasher. Cache errors
// are not fatal: a failed Get falls through to hashing and a failed Put is
// reported through OnCacheError.
type CachingHasher struct {
	Hasher Hasher
	Cache  Cache
	// OnCacheError is optional.
	OnCacheError func(c Candidate, err error)
}

var _ Hasher = (*CachingHasher)(nil)

// Hash returns the cached key when the file is unchanged.
func (ch *CachingHasher) Hash(ctx context.Context, c Candidate) (string, error) {
	hash, ok, err := ch.Cache.Get(ctx, c)
	if err != nil {
		ch.cacheError(c, err)
	}
	if ok {
		return hash, nil
	}

	hash, err = ch.Hasher.Hash(ctx, c)
	if err != nil {
		return "", err
	}
	if err := ch.Cache.Put(ctx, c, hash); err != nil {
		ch.cacheError(c, err)
	}
	return hash, nil
}

func (ch *CachingHasher) cacheError(c Candidate, err error) {
	if ch.OnCacheError != nil {
		ch.OnCacheError(c, err)
	}
}
