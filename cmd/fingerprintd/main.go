package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eargollo/mediaid/internal/api"
	"github.com/eargollo/mediaid/internal/config"
	"github.com/eargollo/mediaid/internal/db"
	"github.com/eargollo/mediaid/internal/fingerprint"
	"github.com/eargollo/mediaid/internal/metrics"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	addr := flag.String("addr", "", "listen address (overrides server.http_addr)")
	flag.Parse()

	// ── Logging (initial; replaced below once config is loaded) ────────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.HTTPAddr = *addr
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("fingerprintd starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.Server.HTTPAddr,
		"db_path", cfg.Server.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.Server.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// ── HTTP server ────────────────────────────────────────────────────────
	store := fingerprint.NewStore(database)
	srv := api.New(cfg.Server.HTTPAddr, store, metrics.New())
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("fingerprintd stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
