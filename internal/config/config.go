package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml. The fingerprint
// service reads Server; the mediaid client reads Client and TMDB.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Server   Server `yaml:"server"`
	Client   Client `yaml:"client"`
	TMDB     TMDB   `yaml:"tmdb"`
}

// Server configures fingerprintd.
type Server struct {
	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`
}

// Client configures the scanning client.
type Client struct {
	ServerURL    string   `yaml:"server_url"`
	DBPath       string   `yaml:"db_path"`
	ScanPaths    []string `yaml:"scan_paths"`
	ExcludePaths []string `yaml:"exclude_paths"`
	Schedule     string   `yaml:"schedule"`
	ControlAddr  string   `yaml:"control_addr"` // daemon control API; empty disables it
	SubmitterTag string   `yaml:"submitter_tag"`
	// Enumerator is "local" (os.ReadDir) or "command" (external lister).
	Enumerator        string   `yaml:"enumerator"`
	EnumeratorCommand []string `yaml:"enumerator_command"`
	// HashMode is "content" (size plus head/tail sample) or "identity"
	// (path, size and mtime only; no file reads).
	HashMode string  `yaml:"hash_mode"`
	Workers  Workers `yaml:"workers"`
}

// Workers holds concurrency knobs for the scan pipeline.
type Workers struct {
	Walkers   int `yaml:"walkers"`
	Hashers   int `yaml:"hashers"`
	Resolvers int `yaml:"resolvers"`
}

// TMDB configures the metadata search provider.
type TMDB struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Language          string  `yaml:"language"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

const (
	EnumeratorLocal   = "local"
	EnumeratorCommand = "command"

	HashModeContent  = "content"
	HashModeIdentity = "identity"
)

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":3000"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "/data/fingerprints.db"
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = "http://localhost:3000"
	}
	if c.Client.DBPath == "" {
		c.Client.DBPath = "mediaid.db"
	}
	if c.Client.Schedule == "" {
		c.Client.Schedule = "0 3 * * *"
	}
	if c.Client.Enumerator == "" {
		c.Client.Enumerator = EnumeratorLocal
	}
	if c.Client.HashMode == "" {
		c.Client.HashMode = HashModeContent
	}
	if c.Client.Workers.Walkers == 0 {
		c.Client.Workers.Walkers = 4
	}
	if c.Client.Workers.Hashers == 0 {
		c.Client.Workers.Hashers = 4
	}
	if c.Client.Workers.Resolvers == 0 {
		c.Client.Workers.Resolvers = 2
	}
	if c.TMDB.BaseURL == "" {
		c.TMDB.BaseURL = "https://api.themoviedb.org/3"
	}
	if c.TMDB.Language == "" {
		c.TMDB.Language = "en-US"
	}
	if c.TMDB.RequestsPerSecond == 0 {
		c.TMDB.RequestsPerSecond = 4
	}
}

// applyEnv overlays secrets that are usually injected through the environment.
func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv("TMDB_API_KEY")); key != "" {
		c.TMDB.APIKey = key
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Client.Enumerator {
	case EnumeratorLocal:
	case EnumeratorCommand:
		if len(c.Client.EnumeratorCommand) == 0 {
			return fmt.Errorf("client.enumerator_command is required when enumerator is %q", EnumeratorCommand)
		}
	default:
		return fmt.Errorf("client.enumerator: unknown value %q", c.Client.Enumerator)
	}
	switch c.Client.HashMode {
	case HashModeContent, HashModeIdentity:
	default:
		return fmt.Errorf("client.hash_mode: unknown value %q", c.Client.HashMode)
	}
	w := c.Client.Workers
	if w.Walkers < 0 || w.Hashers < 0 || w.Resolvers < 0 {
		return fmt.Errorf("client.workers: counts must be positive")
	}
	if c.TMDB.RequestsPerSecond < 0 {
		return fmt.Errorf("tmdb.requests_per_second must be positive")
	}
	return nil
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so either binary
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		cfg.applyDefaults()
		cfg.applyEnv()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}
