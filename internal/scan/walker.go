package scan

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/media"
)

// dirStack is an unbounded, concurrency-safe LIFO of directory paths. Popping
// the most recently pushed directory keeps traversal depth-first even with
// several workers. It tracks a pending counter so that Walk knows when all
// work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE stacking (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the stack and broadcasts.
//   - Close ends the walk early (cancellation); blocked Pops return false.
type dirStack struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	pending atomic.Int64
	closed  bool
}

func newDirStack() *dirStack {
	s := &dirStack{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Push stacks a directory. Must be called after incrementing pending.
func (s *dirStack) Push(dir string) {
	s.mu.Lock()
	s.items = append(s.items, dir)
	s.mu.Unlock()
	s.cond.Signal()
}

// Pop blocks until an item is available or the stack is closed.
// Returns ("", false) once closed.
func (s *dirStack) Pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.items) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return "", false
	}
	last := len(s.items) - 1
	item := s.items[last]
	s.items[last] = ""
	s.items = s.items[:last]
	return item, true
}

// Done must be called once per directory after all its child directories
// have been pushed.
func (s *dirStack) Done() {
	if s.pending.Add(-1) == 0 {
		s.Close()
	}
}

// Close wakes all blocked Pops.
func (s *dirStack) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Candidate is a media file found during discovery.
type Candidate struct {
	Path    string
	Name    string
	Kind    media.Kind
	Size    int64
	ModTime time.Time
}

// dirListing is what a walker reports for one directory.
type dirListing struct {
	Dir        string
	Subdirs    int
	Candidates []Candidate
	Err        error
}

// Walk traverses roots depth-first using numWorkers goroutines and sends one
// dirListing per visited directory to out. Walk closes out when done.
// Paths in excludes are skipped. Cancellation is checked before every
// directory; a directory already being listed finishes first.
func Walk(ctx context.Context, en Enumerator, roots []string, excludes map[string]struct{}, numWorkers int, out chan<- dirListing) {
	defer close(out)
	if numWorkers < 1 {
		numWorkers = 1
	}

	st := newDirStack()
	stop := context.AfterFunc(ctx, st.Close)
	defer stop()

	for _, root := range roots {
		st.pending.Add(1)
		st.Push(root)
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, en, st, excludes, out)
		}()
	}
	wg.Wait()
}

// walkerWorker pops directories, lists them, reports the listing, stacks
// sub-directories (incrementing pending first), then calls Done.
func walkerWorker(ctx context.Context, en Enumerator, st *dirStack, excludes map[string]struct{}, out chan<- dirListing) {
	for {
		dir, ok := st.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		listing := dirListing{Dir: dir}
		entries, err := en.List(ctx, dir)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			listing.Err = errs.Wrap(errs.ErrEnumeration, "discovering", "list", dir, err)
		}

		var subdirs []string
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name)
			if _, excluded := excludes[path]; excluded {
				continue
			}
			if entry.IsDir {
				subdirs = append(subdirs, path)
				continue
			}
			if !media.IsMediaFile(entry.Name) {
				continue
			}
			listing.Candidates = append(listing.Candidates, Candidate{
				Path:    path,
				Name:    entry.Name,
				Kind:    media.Classify(path, entry.Name),
				Size:    entry.Size,
				ModTime: entry.ModTime,
			})
		}
		listing.Subdirs = len(subdirs)

		// Report before stacking children so the collector learns about a
		// directory before any of its subdirectories are visited.
		select {
		case out <- listing:
		case <-ctx.Done():
			return
		}

		// Reverse order puts the first child on top of the stack.
		for i := len(subdirs) - 1; i >= 0; i-- {
			// Increment BEFORE pushing so pending is never zero prematurely.
			st.pending.Add(1)
			st.Push(subdirs[i])
		}
		st.Done()
	}
}
