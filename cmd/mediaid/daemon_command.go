package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/api"
	"github.com/eargollo/mediaid/internal/scan"
	"github.com/eargollo/mediaid/internal/scheduler"
)

const (
	// pruneSchedule runs the hash cache clean-up every Sunday night.
	pruneSchedule = "30 4 * * 0"
	// cacheRetention drops cache rows not seen by a scan for this long.
	cacheRetention = 90 * 24 * time.Hour
	shutdownGrace  = 30 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scans on the configured schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if len(cfg.Client.ScanPaths) == 0 {
				return errors.New("no scan paths: set client.scan_paths")
			}
			if err := scheduler.Validate(cfg.Client.Schedule); err != nil {
				return err
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

			sink := scan.SinkFunc(func(r scan.Result) {
				if r.Err != nil {
					slog.Debug("file unresolved", "path", r.Candidate.Path, "error", r.Err)
					return
				}
				if r.Submitted {
					slog.Info("file identified", "path", r.Candidate.Path,
						"title", r.Metadata.Title(), "method", r.Method, "confidence", r.Confidence)
				}
			})
			orch, err := buildOrchestrator(runCtx, cfg, database, sink)
			if err != nil {
				return err
			}

			startScan := func(trigger string) {
				active, err := orch.Start(runCtx, trigger)
				if errors.Is(err, scan.ErrAlreadyRunning) {
					slog.Info("scan skipped, previous run still active", "trigger", trigger)
					return
				}
				if err != nil {
					slog.Error("start scan", "trigger", trigger, "error", err)
					return
				}
				slog.Info("scan started", "run_id", active.RunID, "trigger", trigger)
			}

			sched := scheduler.New(slog.Default())
			if err := sched.SetJob(cfg.Client.Schedule, func() { startScan("schedule") }); err != nil {
				return err
			}
			cache := scan.NewSQLCache(database)
			if err := sched.AddJob(pruneSchedule, func() {
				n, err := cache.Prune(runCtx, time.Now().Add(-cacheRetention))
				if err != nil {
					slog.Warn("prune hash cache", "error", err)
					return
				}
				slog.Info("hash cache pruned", "rows", n)
			}); err != nil {
				return err
			}
			sched.Start()

			if next := sched.NextRunAt(); next != nil {
				slog.Info("daemon started", "cron", sched.CronExpr(), "next_run", next.Format(time.RFC3339))
			}
			if runNow {
				startScan("startup")
			}

			serverDone := make(chan struct{})
			if addr := cfg.Client.ControlAddr; addr != "" {
				ctl := api.NewControl(addr, api.Control{
					Scans: orch,
					History: func(ctx context.Context, limit int) ([]scan.HistoryEntry, error) {
						return scan.RecentScans(ctx, database, limit)
					},
					Schedule: sched,
				})
				go func() {
					defer close(serverDone)
					if err := ctl.Run(runCtx); err != nil {
						slog.Error("control server", "error", err)
						stop()
					}
				}()
			} else {
				close(serverDone)
			}

			<-runCtx.Done()
			slog.Info("shutting down")
			<-serverDone

			if active, err := orch.Cancel(); err == nil {
				slog.Info("scan cancelled", "run_id", active.RunID)
			}
			orch.Wait()

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "Start a scan immediately instead of waiting for the schedule")
	return cmd
}
