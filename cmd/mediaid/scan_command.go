package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/scan"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var excludes []string
	var showAll bool

	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "Scan media libraries once and identify every file",
		Long: `Walk the given paths (or client.scan_paths), fingerprint every media file,
look each fingerprint up on the fingerprint service and, on a miss, identify
the file by title search and contribute the result back.

Press Ctrl-C to cancel; nothing is submitted after cancellation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if len(args) > 0 {
				cfg.Client.ScanPaths = args
			}
			cfg.Client.ExcludePaths = append(cfg.Client.ExcludePaths, excludes...)
			if len(cfg.Client.ScanPaths) == 0 {
				return errors.New("no scan paths: pass them as arguments or set client.scan_paths")
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			database, err := ctx.openClientDB(runCtx, cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := scan.MarkStaleScansFailed(runCtx, database); err != nil {
				slog.Warn("mark stale scans", "error", err)
			}

			orch, err := buildOrchestrator(runCtx, cfg, database, nil)
			if err != nil {
				return err
			}

			stopProgress := watchProgress(cmd.ErrOrStderr(), orch)
			rep, runErr := orch.Run(runCtx, "manual")
			stopProgress()

			if rep != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep, showAll))
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Directory to skip (repeatable)")
	cmd.Flags().BoolVar(&showAll, "all", false, "List every file, including fingerprint hits")
	return cmd
}

// renderReport prints the summary and a table of results. Fingerprint hits
// are listed only with showAll.
func renderReport(rep *scan.Report, showAll bool) string {
	var b strings.Builder

	var rows [][]string
	for _, r := range rep.Results {
		if r.Method == scan.MethodHashExact && !showAll {
			continue
		}
		rows = append(rows, resultRow(r))
	}
	if len(rows) > 0 {
		b.WriteString(renderTable(
			[]string{"File", "Kind", "Method", "Title", "Year", "Confidence", "Submitted"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Scan %s: %s\n", rep.RunID, rep.Phase)
	fmt.Fprintf(&b, "  directories: %d  files: %d  fingerprint hits: %d  identified: %d  unresolved: %d  submitted: %d\n",
		rep.Directories, rep.Candidates, rep.HashHits, rep.Resolved, rep.Unresolved, rep.Submitted)
	fmt.Fprintf(&b, "  duration: %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if len(rep.Errors) > 0 {
		fmt.Fprintf(&b, "  errors (%d):\n", len(rep.Errors))
		for _, e := range rep.Errors {
			fmt.Fprintf(&b, "    - %s\n", e)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func resultRow(r scan.Result) []string {
	title, year := "", ""
	if r.Metadata != nil {
		title = r.Metadata.Title()
		if y, ok := r.Metadata["year"].(string); ok {
			year = y
		}
	}
	confidence := ""
	if r.Method != scan.MethodUnresolved {
		confidence = fmt.Sprintf("%.2f", r.Confidence)
	}
	submitted := ""
	if r.Submitted {
		submitted = "yes"
	}
	return []string{
		r.Candidate.Name,
		r.Candidate.Kind.String(),
		string(r.Method),
		title,
		year,
		confidence,
		submitted,
	}
}
