package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/eargollo/mediaid/internal/config"
	"github.com/eargollo/mediaid/internal/db"
	"github.com/eargollo/mediaid/internal/hashclient"
	"github.com/eargollo/mediaid/internal/resolve"
	"github.com/eargollo/mediaid/internal/scan"
	"github.com/eargollo/mediaid/internal/tmdb"
)

const submitterTagSetting = "submitter_tag"

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the config once and installs the default logger at
// the configured level.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := "config.yaml"
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.LogLevel = *c.logLevelFlag
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})))
		c.config = cfg
	})
	return c.config, c.configErr
}

// openClientDB opens the client database with migrations applied.
func (c *commandContext) openClientDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Client.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate client database: %w", err)
	}
	return database, nil
}

// submitterTag returns the configured tag, or a random one generated on
// first use and kept in the client database.
func submitterTag(ctx context.Context, cfg *config.Config, database *sql.DB) (string, error) {
	if tag := strings.TrimSpace(cfg.Client.SubmitterTag); tag != "" {
		return tag, nil
	}
	tag, ok, err := db.Setting(ctx, database, submitterTagSetting)
	if err != nil {
		return "", err
	}
	if ok {
		return tag, nil
	}
	tag = "mediaid-" + uuid.NewString()
	if err := db.SaveSetting(ctx, database, submitterTagSetting, tag); err != nil {
		return "", err
	}
	slog.Info("generated submitter tag", "tag", tag)
	return tag, nil
}

func newHashClient(cfg *config.Config, tag string) (*hashclient.Client, error) {
	return hashclient.New(cfg.Client.ServerURL,
		hashclient.WithSubmitterTag(tag),
		hashclient.WithUserAgent("mediaid/"+version),
	)
}

func newResolver(cfg *config.Config) (*resolve.Resolver, error) {
	client, err := tmdb.New(cfg.TMDB.APIKey, cfg.TMDB.BaseURL, cfg.TMDB.Language,
		tmdb.WithRateLimit(cfg.TMDB.RequestsPerSecond))
	if err != nil {
		return nil, fmt.Errorf("create TMDB client: %w", err)
	}
	return resolve.New(client, resolve.WithLogger(slog.Default())), nil
}

func newEnumerator(cfg *config.Config) scan.Enumerator {
	if cfg.Client.Enumerator == config.EnumeratorCommand {
		return scan.CommandEnumerator{Args: cfg.Client.EnumeratorCommand}
	}
	return scan.LocalEnumerator{}
}

func newBaseHasher(cfg *config.Config) scan.Hasher {
	if cfg.Client.HashMode == config.HashModeIdentity {
		return scan.IdentityHasher{}
	}
	return scan.ContentHasher{}
}

// newHasher wraps the configured hasher with the client database cache.
func newHasher(cfg *config.Config, database *sql.DB) scan.Hasher {
	return &scan.CachingHasher{
		Hasher: newBaseHasher(cfg),
		Cache:  scan.NewSQLCache(database),
		OnCacheError: func(c scan.Candidate, err error) {
			slog.Debug("hash cache unavailable", "path", c.Path, "error", err)
		},
	}
}

// buildOrchestrator wires every scan collaborator from cfg.
func buildOrchestrator(ctx context.Context, cfg *config.Config, database *sql.DB, sink scan.Sink) (*scan.Orchestrator, error) {
	tag, err := submitterTag(ctx, cfg, database)
	if err != nil {
		return nil, err
	}
	hc, err := newHashClient(cfg, tag)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}

	opts := scan.Options{
		Roots:     cfg.Client.ScanPaths,
		Excludes:  cfg.Client.ExcludePaths,
		Walkers:   cfg.Client.Workers.Walkers,
		Hashers:   cfg.Client.Workers.Hashers,
		Resolvers: cfg.Client.Workers.Resolvers,
	}
	return scan.NewOrchestrator(scan.Deps{
		Enumerator:   newEnumerator(cfg),
		Hasher:       newHasher(cfg, database),
		Fingerprints: hc,
		Resolver:     resolver,
		Sink:         sink,
		DB:           database,
		Logger:       slog.Default(),
	}, opts)
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

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
