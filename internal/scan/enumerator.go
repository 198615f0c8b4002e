package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"isDirectory"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modifiedTime"`
}

// Enumerator lists one directory level. Implementations may be local,
// a network share client, or an external process.
type Enumerator interface {
	List(ctx context.Context, path string) ([]Entry, error)
}

// Pinger is implemented by enumerators with a cheaper reachability check
// than listing the root.
type Pinger interface {
	Ping(ctx context.Context, root string) error
}

// LocalEnumerator lists directories on the local filesystem. Symlinks and
// non-regular files are skipped.
type LocalEnumerator struct{}

var (
	_ Enumerator = LocalEnumerator{}
	_ Pinger     = LocalEnumerator{}
)

// Ping verifies root exists and is a directory.
func (LocalEnumerator) Ping(_ context.Context, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return nil
}

// List reads one level of path.
func (LocalEnumerator) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			out = append(out, Entry{Name: de.Name(), IsDir: true})
			continue
		}
		if de.Type()&fs.ModeSymlink != 0 || !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

// CommandEnumerator runs an external lister for every directory. The
// directory path is appended to Args and the process must print a JSON
// array of entries ({name, isDirectory, size, modifiedTime}) on stdout.
type CommandEnumerator struct {
	Args []string
}

var _ Enumerator = CommandEnumerator{}

// List invokes the command for path.
func (c CommandEnumerator) List(ctx context.Context, path string) ([]Entry, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("enumerator command not configured")
	}
	args := append(append([]string{}, c.Args[1:]...), path)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.Args[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", c.Args[0], err)
	}
	var entries []Entry
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", c.Args[0], err)
	}
	return entries, nil
}
