// Package config loads and saves the repoops configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/thiagokokada/repoops/internal/git"
	"github.com/thiagokokada/repoops/internal/git/backend"
	"github.com/thiagokokada/repoops/internal/repocache"
	"github.com/thiagokokada/repoops/internal/watch"
)

const (
	AppDir     = "repoops"
	ConfigFile = "config.toml"
	// BackendEnv overrides the backend setting of the file.
	BackendEnv = "REPOOPS_BACKEND"
)

// Duration is a time.Duration written as "2s" in the file.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", b)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Backend   string `toml:"backend" json:"backend" yaml:"backend"`
	GitBinary string `toml:"git_binary" json:"git_binary" yaml:"git_binary"`
	LogLevel  string `toml:"log_level" json:"log_level" yaml:"log_level"`

	Cache CacheConfig `toml:"cache" json:"cache" yaml:"cache"`
	Blame BlameConfig `toml:"blame" json:"blame" yaml:"blame"`
	Refs  RefsConfig  `toml:"refs" json:"refs" yaml:"refs"`
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	path string
}

type CacheConfig struct {
	StatusTTL    Duration `toml:"status_ttl" json:"status_ttl" yaml:"status_ttl"`
	WorktreeTTL  Duration `toml:"worktree_ttl" json:"worktree_ttl" yaml:"worktree_ttl"`
	BranchesTTL  Duration `toml:"branches_ttl" json:"branches_ttl" yaml:"branches_ttl"`
	RefsTTL      Duration `toml:"refs_ttl" json:"refs_ttl" yaml:"refs_ttl"`
	LogTTL       Duration `toml:"log_ttl" json:"log_ttl" yaml:"log_ttl"`
	MaxEntries   int      `toml:"max_entries" json:"max_entries" yaml:"max_entries"`
	LowWatermark int      `toml:"low_watermark" json:"low_watermark" yaml:"low_watermark"`
}

type BlameConfig struct {
	Strategy string `toml:"strategy" json:"strategy" yaml:"strategy"`
	MaxDepth int    `toml:"max_depth" json:"max_depth" yaml:"max_depth"`
}

type RefsConfig struct {
	AheadBehindDepth int `toml:"ahead_behind_depth" json:"ahead_behind_depth" yaml:"ahead_behind_depth"`
}

type WatchConfig struct {
	Enabled  bool     `toml:"enabled" json:"enabled" yaml:"enabled"`
	Debounce Duration `toml:"debounce" json:"debounce" yaml:"debounce"`
}

func Default() *Config {
	cache := repocache.DefaultConfig()
	return &Config{
		Backend:   string(backend.PreferAuto),
		GitBinary: "git",
		LogLevel:  "warn",
		Cache: CacheConfig{
			StatusTTL:    Duration(cache.TTL[repocache.KindStatus]),
			WorktreeTTL:  Duration(cache.TTL[repocache.KindWorktree]),
			BranchesTTL:  Duration(cache.TTL[repocache.KindBranches]),
			RefsTTL:      Duration(cache.TTL[repocache.KindRefs]),
			LogTTL:       Duration(cache.TTL[repocache.KindLog]),
			MaxEntries:   cache.MaxEntries,
			LowWatermark: cache.LowWatermark,
		},
		Blame: BlameConfig{Strategy: string(git.BlameAuto), MaxDepth: git.DefaultBlameDepth},
		Refs:  RefsConfig{AheadBehindDepth: git.DefaultAheadBehindDepth},
		Watch: WatchConfig{Enabled: true, Debounce: Duration(watch.DefaultDebounce)},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/repoops/config.toml, or the platform user
// config directory when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		dir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate config directory: %w", err)
		}
	}
	return filepath.Join(dir, AppDir, ConfigFile), nil
}

// Load reads path, or the default path when empty. A missing file yields the
// defaults. Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg := Default()
	cfg.path = path
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("no config file, using defaults", slog.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if v := os.Getenv(BackendEnv); v != "" {
		cfg.Backend = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := backend.ParsePreference(c.Backend); err != nil {
		return err
	}
	if _, err := git.ParseBlameStrategy(c.Blame.Strategy); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Cache.MaxEntries < 0 || c.Cache.LowWatermark < 0 {
		return backend.Invalid("cache", "negative size limits")
	}
	if c.Cache.MaxEntries > 0 && c.Cache.LowWatermark > c.Cache.MaxEntries {
		return backend.Invalid("cache", "low_watermark %d above max_entries %d", c.Cache.LowWatermark, c.Cache.MaxEntries)
	}
	return nil
}

// Path is where the configuration was loaded from and where Save writes.
func (c *Config) Path() string { return c.path }

func (c *Config) SetPath(path string) { c.path = path }

// Save writes the configuration, creating its directory when needed.
func (c *Config) Save() error {
	if c.path == "" {
		path, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = path
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(c.path, data, 0o644)
}

// Engine converts the file settings into the engine configuration.
func (c *Config) Engine() git.Config {
	pref, _ := backend.ParsePreference(c.Backend)
	cfg := git.DefaultConfig()
	cfg.Backend = backend.Options{Preference: pref, GitBinary: c.GitBinary}
	ttl := map[repocache.Kind]Duration{
		repocache.KindStatus:   c.Cache.StatusTTL,
		repocache.KindWorktree: c.Cache.WorktreeTTL,
		repocache.KindBranches: c.Cache.BranchesTTL,
		repocache.KindRefs:     c.Cache.RefsTTL,
		repocache.KindLog:      c.Cache.LogTTL,
	}
	for kind, d := range ttl {
		if d > 0 {
			cfg.Cache.TTL[kind] = time.Duration(d)
		}
	}
	if c.Cache.MaxEntries > 0 {
		cfg.Cache.MaxEntries = c.Cache.MaxEntries
		cfg.Cache.LowWatermark = c.Cache.LowWatermark
	}
	cfg.BlameDepth = c.Blame.MaxDepth
	cfg.AheadBehindDepth = c.Refs.AheadBehindDepth
	return cfg
}

// ParseLogLevel accepts debug, info, warn and error.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, backend.Invalid("log_level", "%q (want debug, info, warn or error)", s)
	}
	return level, nil
}
