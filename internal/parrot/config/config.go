// Package config loads Parrot's settings.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file, an optional ".local" overlay next to it (config/parrot.yaml is
// overlaid by config/parrot.local.yaml), and PARROT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Parrot/common/environment"
)

// DefaultPath is used when no config file is given.
const DefaultPath = "config/parrot.yaml"

// Store backends.
const (
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendFilesystem = "filesystem"
)

// Config is the full Parrot configuration.
type Config struct {
	Log    Log    `yaml:"log"`
	Matrix Matrix `yaml:"matrix"`
	Bot    Bot    `yaml:"bot"`
	Cache  Cache  `yaml:"cache"`
	Store  Store  `yaml:"store"`
	HTTP   HTTP   `yaml:"http"`
}

// Log configures the slog handler.
type Log struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Matrix holds the homeserver credentials. Only `parrot run` needs them.
type Matrix struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	AccessToken string   `yaml:"access_token"`
	Rooms       []string `yaml:"rooms"`
	// AutoJoin accepts room invites addressed to the bot.
	AutoJoin bool `yaml:"auto_join"`
}

// Bot tunes when and how the bot talks.
type Bot struct {
	// ReplyDivisor gives each unprompted message a 1/ReplyDivisor chance of
	// getting a reply. Zero disables unprompted replies.
	ReplyDivisor int `yaml:"reply_divisor"`
	// MinReplyWords discards generated replies shorter than this.
	MinReplyWords int `yaml:"min_reply_words"`
}

// Cache configures the session cache.
type Cache struct {
	// Cycle is the number of SaveChain calls skipped between store writes.
	Cycle uint8 `yaml:"cycle"`
	// FlushTimeout bounds the write of pending chains on shutdown.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// Store selects and configures the chain store backend.
type Store struct {
	Backend    string     `yaml:"backend"`
	SQLite     SQLite     `yaml:"sqlite"`
	Postgres   Postgres   `yaml:"postgres"`
	Filesystem Filesystem `yaml:"filesystem"`
}

// SQLite is the embedded relational backend.
type SQLite struct {
	Path string `yaml:"path"`
}

// Postgres is the server relational backend.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Filesystem stores one JSON file per session.
type Filesystem struct {
	Dir string `yaml:"dir"`
}

// HTTP configures the health/metrics listener. An empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Log:    Log{Level: "info", Format: "text"},
		Matrix: Matrix{AutoJoin: true},
		Bot:    Bot{ReplyDivisor: 20, MinReplyWords: 1},
		Cache:  Cache{Cycle: 10, FlushTimeout: 30 * time.Second},
		Store: Store{
			Backend:    BackendSQLite,
			SQLite:     SQLite{Path: "/data/parrot.db"},
			Filesystem: Filesystem{Dir: "/data/chains"},
		},
		HTTP: HTTP{Addr: ":8080"},
	}
}

// Load reads path (DefaultPath when empty), its overlay and the environment,
// then validates the result. An explicitly given path must exist; a missing
// DefaultPath falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	required := path != ""
	if path == "" {
		path = DefaultPath
	}
	if err := cfg.mergeFile(path, required); err != nil {
		return nil, err
	}
	if err := cfg.mergeFile(overlayPath(path), false); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// overlayPath maps dir/name.yaml to dir/name.local.yaml.
func overlayPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// ApplyEnv overwrites fields from PARROT_* environment variables.
func (c *Config) ApplyEnv() error {
	environment.String("PARROT_LOG_LEVEL", &c.Log.Level)
	environment.String("PARROT_LOG_FORMAT", &c.Log.Format)
	environment.String("PARROT_MATRIX_HOMESERVER", &c.Matrix.Homeserver)
	environment.String("PARROT_MATRIX_USER_ID", &c.Matrix.UserID)
	environment.String("PARROT_MATRIX_ACCESS_TOKEN", &c.Matrix.AccessToken)
	environment.StringSlice("PARROT_MATRIX_ROOMS", &c.Matrix.Rooms)
	environment.String("PARROT_STORE_BACKEND", &c.Store.Backend)
	environment.String("PARROT_STORE_SQLITE_PATH", &c.Store.SQLite.Path)
	environment.String("PARROT_STORE_POSTGRES_DSN", &c.Store.Postgres.DSN)
	environment.String("PARROT_STORE_FILESYSTEM_DIR", &c.Store.Filesystem.Dir)
	environment.String("PARROT_HTTP_ADDR", &c.HTTP.Addr)

	return errors.Join(
		environment.Bool("PARROT_MATRIX_AUTO_JOIN", &c.Matrix.AutoJoin),
		environment.Int("PARROT_BOT_REPLY_DIVISOR", &c.Bot.ReplyDivisor),
		environment.Int("PARROT_BOT_MIN_REPLY_WORDS", &c.Bot.MinReplyWords),
		environment.Uint8("PARROT_CACHE_CYCLE", &c.Cache.Cycle),
		environment.Duration("PARROT_CACHE_FLUSH_TIMEOUT", &c.Cache.FlushTimeout),
	)
}

// Validate checks everything except the Matrix credentials.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q must be text or json", c.Log.Format)
	}
	if c.Bot.ReplyDivisor < 0 {
		return fmt.Errorf("config: bot.reply_divisor must not be negative")
	}
	if c.Bot.MinReplyWords < 1 {
		return fmt.Errorf("config: bot.min_reply_words must be at least 1")
	}
	if c.Cache.FlushTimeout <= 0 {
		return fmt.Errorf("config: cache.flush_timeout must be positive")
	}
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("config: store.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres backend")
		}
	case BackendFilesystem:
		if c.Store.Filesystem.Dir == "" {
			return fmt.Errorf("config: store.filesystem.dir is required for the filesystem backend")
		}
	default:
		return fmt.Errorf("config: store.backend %q must be one of %s, %s, %s",
			c.Store.Backend, BackendSQLite, BackendPostgres, BackendFilesystem)
	}
	return nil
}

// ValidateMatrix checks the settings needed to connect to a homeserver.
func (c *Config) ValidateMatrix() error {
	switch {
	case c.Matrix.Homeserver == "":
		return fmt.Errorf("config: matrix.homeserver is required")
	case c.Matrix.UserID == "":
		return fmt.Errorf("config: matrix.user_id is required")
	case c.Matrix.AccessToken == "":
		return fmt.Errorf("config: matrix.access_token is required")
	}
	return nil
}
