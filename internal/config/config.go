// Package config owns the pbxmon.toml surface: types, defaults,
// file loading, validation, and the generated template.
//
// Ownership boundary:
// - the TOML schema and its defaults
// - validation of operator input at the boundary
//
// The protocol client never reads this package; it takes explicit
// arguments. Only the binaries and the collector consume Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var (
	ErrNoTargets       = errors.New("config: at least one target required")
	ErrDuplicateTarget = errors.New("config: duplicate target name")
)

// Config is the full pbxmonctl runtime configuration.
type Config struct {
	Collector CollectorConfig
	API       APIConfig
	Targets   []TargetConfig
}

// CollectorConfig drives the poll service.
type CollectorConfig struct {
	CacheDir     string
	PollInterval time.Duration
	CacheTTL     time.Duration
	// Backoff settings for failed targets.
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
}

// APIConfig drives the HTTP surface. An empty AuthToken leaves /api open.
type APIConfig struct {
	Enabled     bool
	ListenAddr  string
	CORSOrigins []string
	AuthToken   string
}

// TargetConfig is one monitored manager endpoint.
type TargetConfig struct {
	Name     string
	Addr     string
	Username string
	Secret   string

	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
	ActionTimeout  time.Duration

	ExpectEndpoints bool
	QueueWaitWarn   int
}

func DefaultConfig() Config {
	return Config{
		Collector: CollectorConfig{
			CacheDir:          "/var/lib/pbxmon/cache",
			PollInterval:      60 * time.Second,
			CacheTTL:          5 * time.Minute,
			BackoffInitial:    5 * time.Second,
			BackoffMax:        2 * time.Minute,
			BackoffMultiplier: 2.0,
		},
		API: APIConfig{
			Enabled:     true,
			ListenAddr:  ":9180",
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

// fileConfig is the raw TOML shape; durations ride as strings so the
// file reads "60s", not nanosecond counts.
type fileConfig struct {
	Collector fileCollector `toml:"collector"`
	API       fileAPI       `toml:"api"`
	Targets   []fileTarget  `toml:"targets"`
}

type fileCollector struct {
	CacheDir          string  `toml:"cache_dir"`
	PollInterval      string  `toml:"poll_interval"`
	CacheTTL          string  `toml:"cache_ttl"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
}

type fileAPI struct {
	Enabled     bool     `toml:"enabled"`
	ListenAddr  string   `toml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins"`
	AuthToken   string   `toml:"auth_token"`
}

type fileTarget struct {
	Name            string `toml:"name"`
	Addr            string `toml:"addr"`
	Username        string `toml:"username"`
	Secret          string `toml:"secret"`
	ConnectTimeout  string `toml:"connect_timeout"`
	LoginTimeout    string `toml:"login_timeout"`
	ActionTimeout   string `toml:"action_timeout"`
	ExpectEndpoints bool   `toml:"expect_endpoints"`
	QueueWaitWarn   int    `toml:"queue_wait_warn"`
}

// Load reads path over the defaults: only keys present in the file
// override, so a zero value in the file never clobbers a default by
// accident.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if meta.IsDefined("collector", "cache_dir") {
		cfg.Collector.CacheDir = strings.TrimSpace(raw.Collector.CacheDir)
	}
	if err := overrideDuration(meta, &cfg.Collector.PollInterval, raw.Collector.PollInterval, "collector", "poll_interval"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(meta, &cfg.Collector.CacheTTL, raw.Collector.CacheTTL, "collector", "cache_ttl"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(meta, &cfg.Collector.BackoffInitial, raw.Collector.BackoffInitial, "collector", "backoff_initial"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(meta, &cfg.Collector.BackoffMax, raw.Collector.BackoffMax, "collector", "backoff_max"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("collector", "backoff_multiplier") {
		cfg.Collector.BackoffMultiplier = raw.Collector.BackoffMultiplier
	}

	if meta.IsDefined("api", "enabled") {
		cfg.API.Enabled = raw.API.Enabled
	}
	if meta.IsDefined("api", "listen_addr") {
		cfg.API.ListenAddr = strings.TrimSpace(raw.API.ListenAddr)
	}
	if meta.IsDefined("api", "cors_origins") {
		cfg.API.CORSOrigins = raw.API.CORSOrigins
	}
	if meta.IsDefined("api", "auth_token") {
		cfg.API.AuthToken = strings.TrimSpace(raw.API.AuthToken)
	}

	for i, rt := range raw.Targets {
		target := TargetConfig{
			Name:            strings.TrimSpace(rt.Name),
			Addr:            strings.TrimSpace(rt.Addr),
			Username:        strings.TrimSpace(rt.Username),
			Secret:          rt.Secret,
			ExpectEndpoints: rt.ExpectEndpoints,
			QueueWaitWarn:   rt.QueueWaitWarn,
		}
		for _, f := range []struct {
			raw  string
			out  *time.Duration
			name string
		}{
			{rt.ConnectTimeout, &target.ConnectTimeout, "connect_timeout"},
			{rt.LoginTimeout, &target.LoginTimeout, "login_timeout"},
			{rt.ActionTimeout, &target.ActionTimeout, "action_timeout"},
		} {
			if strings.TrimSpace(f.raw) == "" {
				continue
			}
			d, err := time.ParseDuration(strings.TrimSpace(f.raw))
			if err != nil {
				return Config{}, fmt.Errorf("config: targets[%d].%s: %w", i, f.name, err)
			}
			*f.out = d
		}
		cfg.Targets = append(cfg.Targets, target)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideDuration(meta toml.MetaData, out *time.Duration, raw string, keys ...string) error {
	if !meta.IsDefined(keys...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config: %s: %w", strings.Join(keys, "."), err)
	}
	*out = d
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Collector.CacheDir) == "" {
		return fmt.Errorf("config: collector.cache_dir required")
	}
	if c.Collector.PollInterval <= 0 {
		return fmt.Errorf("config: collector.poll_interval must be positive")
	}
	if c.Collector.CacheTTL <= 0 {
		return fmt.Errorf("config: collector.cache_ttl must be positive")
	}
	if c.Collector.BackoffMultiplier < 1.0 {
		return fmt.Errorf("config: collector.backoff_multiplier must be >= 1.0")
	}
	if c.API.Enabled && strings.TrimSpace(c.API.ListenAddr) == "" {
		return fmt.Errorf("config: api.listen_addr required when api enabled")
	}
	if len(c.Targets) == 0 {
		return ErrNoTargets
	}
	seen := map[string]bool{}
	for i, target := range c.Targets {
		if target.Name == "" {
			return fmt.Errorf("config: targets[%d]: name required", i)
		}
		if seen[target.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, target.Name)
		}
		seen[target.Name] = true
		if target.Addr == "" {
			return fmt.Errorf("config: target %s: addr required", target.Name)
		}
		if target.Username == "" || target.Secret == "" {
			return fmt.Errorf("config: target %s: username and secret required", target.Name)
		}
		if target.QueueWaitWarn < 0 {
			return fmt.Errorf("config: target %s: queue_wait_warn must not be negative", target.Name)
		}
	}
	return nil
}
