package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/eargollo/mediaid/internal/scan"
)

const progressInterval = 250 * time.Millisecond

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressLine renders one status line for a snapshot.
func progressLine(s scan.Snapshot) string {
	line := fmt.Sprintf("%-11s %5.1f%%  %d/%d", s.Phase, s.Overall()*100, s.Current, s.Total)
	if n := len(s.Errors); n > 0 {
		line += "  errors:" + strconv.Itoa(n)
	}
	if s.CurrentItem != "" {
		line += "  " + shorten(s.CurrentItem, 60)
	}
	return line
}

// shorten keeps the tail of s, which for paths is the informative part.
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}

// watchProgress redraws the progress line of orch on w until the returned
// stop function is called. It does nothing when w is not a terminal.
func watchProgress(w io.Writer, orch *scan.Orchestrator) (stop func()) {
	if !isTerminal(w) {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		width := 0
		draw := func() {
			line := progressLine(orch.Progress())
			pad := width - len(line)
			if pad < 0 {
				pad = 0
			}
			fmt.Fprintf(w, "\r%s%*s", line, pad, "")
			width = len(line)
		}
		for {
			select {
			case <-ticker.C:
				draw()
			case <-done:
				draw()
				fmt.Fprintln(w)
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
