package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/eargollo/mediaid/internal/errs"
	"github.com/eargollo/mediaid/internal/media"
)

// TestDirStackNeverLosesItems pushes 5 000 items from several goroutines,
// pops all, and verifies the exact set is returned.
func TestDirStackNeverLosesItems(t *testing.T) {
	const n = 5000
	const pushers = 4
	s := newDirStack()

	var wg sync.WaitGroup
	for p := 0; p < pushers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := p; i < n; i += pushers {
				s.pending.Add(1)
				s.Push(fmt.Sprintf("dir%04d", i))
			}
		}()
	}
	wg.Wait()

	var got []string
	for {
		item, ok := s.Pop()
		if !ok {
			break
		}
		got = append(got, item)
		s.Done()
	}

	if len(got) != n {
		t.Fatalf("got %d items, want %d", len(got), n)
	}
	sort.Strings(got)
	for i, v := range got {
		if want := fmt.Sprintf("dir%04d", i); v != want {
			t.Errorf("item %d: got %q, want %q", i, v, want)
		}
	}
}

func TestDirStackPopsMostRecentFirst(t *testing.T) {
	s := newDirStack()
	for _, d := range []string{"a", "b", "c"} {
		s.pending.Add(1)
		s.Push(d)
	}
	for _, want := range []string{"c", "b", "a"} {
		got, ok := s.Pop()
		if !ok || got != want {
			t.Fatalf("Pop: got %q,%v want %q", got, ok, want)
		}
		s.Done()
	}
	if _, ok := s.Pop(); ok {
		t.Error("stack should be closed once pending reaches zero")
	}
}

func TestDirStackCloseWakesBlockedPop(t *testing.T) {
	s := newDirStack()
	s.pending.Add(1) // never Done: only Close can end the wait
	done := make(chan bool)
	go func() {
		_, ok := s.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("Pop on a closed stack should report false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

// collect runs Walk and drains its output.
func collect(ctx context.Context, en Enumerator, roots []string, excludes map[string]struct{}, workers int) []dirListing {
	out := make(chan dirListing, 16)
	go Walk(ctx, en, roots, excludes, workers, out)
	var got []dirListing
	for l := range out {
		got = append(got, l)
	}
	return got
}

func candidatePaths(listings []dirListing) []string {
	var paths []string
	for _, l := range listings {
		for _, c := range l.Candidates {
			paths = append(paths, c.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

func TestWalkFindsMediaFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Movies", "Heat (1995).mkv"), []byte("heat"))
	writeFile(t, filepath.Join(root, "Movies", "Heat (1995).nfo"), []byte("nfo"))
	writeFile(t, filepath.Join(root, "TV", "Show", "Season 1", "Show.S01E02.mp4"), []byte("ep"))
	writeFile(t, filepath.Join(root, "misc", "clip.avi"), []byte("clip"))
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("notes"))

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			listings := collect(context.Background(), LocalEnumerator{}, []string{root}, nil, workers)

			// root, Movies, TV, TV/Show, TV/Show/Season 1, misc
			if len(listings) != 6 {
				t.Errorf("visited %d directories, want 6", len(listings))
			}
			want := []string{
				filepath.Join(root, "Movies", "Heat (1995).mkv"),
				filepath.Join(root, "TV", "Show", "Season 1", "Show.S01E02.mp4"),
				filepath.Join(root, "misc", "clip.avi"),
			}
			sort.Strings(want)
			got := candidatePaths(listings)
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("candidates:\n got %v\nwant %v", got, want)
			}

			kinds := map[string]media.Kind{}
			for _, l := range listings {
				for _, c := range l.Candidates {
					kinds[c.Name] = c.Kind
					if c.Size == 0 || c.ModTime.IsZero() {
						t.Errorf("%s: size/mtime not populated", c.Path)
					}
				}
			}
			if kinds["Heat (1995).mkv"] != media.KindMovie {
				t.Errorf("Heat kind = %q", kinds["Heat (1995).mkv"])
			}
			if kinds["Show.S01E02.mp4"] != media.KindTV {
				t.Errorf("Show kind = %q", kinds["Show.S01E02.mp4"])
			}
		})
	}
}

func TestWalkExcludesPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep", "a.mkv"), []byte("a"))
	writeFile(t, filepath.Join(root, "skip", "b.mkv"), []byte("b"))
	writeFile(t, filepath.Join(root, "skip", "deeper", "c.mkv"), []byte("c"))

	excludes := map[string]struct{}{filepath.Join(root, "skip"): {}}
	got := candidatePaths(collect(context.Background(), LocalEnumerator{}, []string{root}, excludes, 2))

	if len(got) != 1 || got[0] != filepath.Join(root, "keep", "a.mkv") {
		t.Errorf("got %v, want only keep/a.mkv", got)
	}
}

func TestWalkRecordsSubtreeErrorAndContinues(t *testing.T) {
	listings := collect(context.Background(), library(), []string{"/lib"}, nil, 2)

	var failed []dirListing
	for _, l := range listings {
		if l.Err != nil {
			failed = append(failed, l)
		}
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed listings, want 1", len(failed))
	}
	if failed[0].Dir != "/lib/Broken" {
		t.Errorf("failed dir = %q", failed[0].Dir)
	}
	if !errors.Is(failed[0].Err, errs.ErrEnumeration) {
		t.Errorf("error %v is not an enumeration error", failed[0].Err)
	}

	got := candidatePaths(listings)
	want := []string{"/lib/Movies/Heat (1995).mp4", "/lib/Movies/Inception (2010).mkv", "/lib/TV/Show.S01E01.mkv"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("candidates:\n got %v\nwant %v", got, want)
	}
}

func TestWalkSingleWorkerIsDepthFirst(t *testing.T) {
	en := &memEnumerator{dirs: map[string][]Entry{
		"/r":      {dir("a"), dir("b")},
		"/r/a":    {dir("a1")},
		"/r/a/a1": {},
		"/r/b":    {},
	}}
	collect(context.Background(), en, []string{"/r"}, nil, 1)

	want := []string{"/r", "/r/a", "/r/a/a1", "/r/b"}
	if got := en.Listed(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("visit order:\n got %v\nwant %v", got, want)
	}
}

func TestWalkCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	en := &memEnumerator{
		dirs: map[string][]Entry{"/r": {dir("slow")}, "/r/slow": {}},
		hook: func(ctx context.Context, path string) {
			if path == "/r/slow" {
				cancel()
				<-ctx.Done()
			}
		},
	}

	done := make(chan []dirListing)
	go func() { done <- collect(ctx, en, []string{"/r"}, nil, 2) }()

	select {
	case listings := <-done:
		for _, l := range listings {
			if l.Dir == "/r/slow" {
				t.Error("cancelled directory should not be reported")
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Walk did not return after cancellation")
	}
}
