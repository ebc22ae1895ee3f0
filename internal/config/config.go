// Package config loads terminal and reconciler configuration.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
	"github.com/stevedores/dashboard-sync/internal/logging"
	syncengine "github.com/stevedores/dashboard-sync/internal/sync"
	"github.com/stevedores/dashboard-sync/internal/sync/conflict"
	"github.com/stevedores/dashboard-sync/internal/sync/network"
	"github.com/stevedores/dashboard-sync/internal/sync/scheduler"
	"github.com/stevedores/dashboard-sync/internal/sync/submitter"
)

// EnvPrefix prefixes every environment override, e.g. HARBOR_SYNC_SERVER_URL.
const EnvPrefix = "HARBOR"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      logging.Config `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Network  NetworkConfig  `mapstructure:"network"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type SyncConfig struct {
	ServerURL     string                  `mapstructure:"server_url"`
	BatchSize     int                     `mapstructure:"batch_size"`
	Interval      time.Duration           `mapstructure:"interval"`
	PassTimeout   time.Duration           `mapstructure:"pass_timeout"`
	MaxRetries    int                     `mapstructure:"max_retries"`
	SendTimeout   time.Duration           `mapstructure:"send_timeout"`
	Backoff       submitter.BackoffConfig `mapstructure:"backoff"`
	PurgeSchedule string                  `mapstructure:"purge_schedule"`
	PurgeAfter    time.Duration           `mapstructure:"purge_after"`
}

type NetworkConfig struct {
	network.ProberConfig `mapstructure:",squash"`
	StartOnline          bool `mapstructure:"start_online"`
}

type ConflictConfig struct {
	AutoResolveDelay time.Duration              `mapstructure:"auto_resolve_delay"`
	DefaultStrategy  string                     `mapstructure:"default_strategy"`
	Policies         map[string]conflict.Policy `mapstructure:"policies"`
}

type TerminalConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	DBPath   string `mapstructure:"db_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads path and applies HARBOR_ environment overrides. With envOnly
// the file is skipped and only defaults plus environment are used.
func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, apperrors.Wrap(apperrors.ErrInvalid, "read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrInvalid, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "harbor-terminal")
	v.SetDefault("app.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("store.path", "data/terminal.db")

	sub := submitter.DefaultConfig()
	sched := scheduler.DefaultSchedulerConfig()
	v.SetDefault("sync.server_url", "http://localhost:8090")
	v.SetDefault("sync.batch_size", sched.BatchSize)
	v.SetDefault("sync.interval", sched.Interval)
	v.SetDefault("sync.pass_timeout", sched.PassTimeout)
	v.SetDefault("sync.max_retries", sub.MaxRetries)
	v.SetDefault("sync.send_timeout", sub.SendTimeout)
	v.SetDefault("sync.backoff.initial", sub.Backoff.Initial)
	v.SetDefault("sync.backoff.max", sub.Backoff.Max)
	v.SetDefault("sync.backoff.multiplier", sub.Backoff.Multiplier)
	v.SetDefault("sync.backoff.randomization", sub.Backoff.Randomization)
	v.SetDefault("sync.purge_schedule", sched.PurgeSchedule)
	v.SetDefault("sync.purge_after", sched.PurgeAfter)

	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.probe_interval", "15s")
	v.SetDefault("network.probe_timeout", "3s")
	v.SetDefault("network.start_online", false)

	v.SetDefault("conflict.auto_resolve_delay", conflict.DefaultAutoResolveDelay)
	v.SetDefault("conflict.default_strategy", string(conflict.StrategyMerge))

	v.SetDefault("terminal.http_addr", "127.0.0.1:8085")
	v.SetDefault("server.http_addr", ":8090")
	v.SetDefault("server.db_path", "data/reconciler.db")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Interval <= 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.MaxRetries <= 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.Backoff.Multiplier < 1 {
		return apperrors.Newf(apperrors.ErrInvalid, "sync.backoff.multiplier must be at least 1, got %v", c.Sync.Backoff.Multiplier)
	}
	if c.Sync.Backoff.Randomization < 0 || c.Sync.Backoff.Randomization >= 1 {
		return apperrors.Newf(apperrors.ErrInvalid, "sync.backoff.randomization must be in [0,1), got %v", c.Sync.Backoff.Randomization)
	}
	if c.Conflict.AutoResolveDelay < 0 {
		return apperrors.Newf(apperrors.ErrInvalid, "conflict.auto_resolve_delay must not be negative")
	}
	return c.ConflictPolicies().Validate()
}

// ConflictPolicies merges configured policies over the built-in table.
func (c Config) ConflictPolicies() conflict.Policies {
	return conflict.DefaultPolicies().WithOverrides(conflict.Strategy(c.Conflict.DefaultStrategy), c.Conflict.Policies)
}

// Engine builds the sync engine configuration.
func (c Config) Engine() syncengine.Config {
	return syncengine.Config{
		Scheduler: scheduler.SchedulerConfig{
			Interval:      c.Sync.Interval,
			BatchSize:     c.Sync.BatchSize,
			PassTimeout:   c.Sync.PassTimeout,
			PurgeSchedule: c.Sync.PurgeSchedule,
			PurgeAfter:    c.Sync.PurgeAfter,
		},
		Submitter: submitter.Config{
			MaxRetries:  c.Sync.MaxRetries,
			SendTimeout: c.Sync.SendTimeout,
			Backoff:     c.Sync.Backoff,
		},
		Conflict: conflict.Config{
			AutoResolveDelay: c.Conflict.AutoResolveDelay,
			Policies:         c.ConflictPolicies(),
		},
	}
}

// Prober returns the connectivity probe settings. An empty probe URL
// defaults to the reconciler health endpoint.
func (c Config) Prober() network.ProberConfig {
	pc := c.Network.ProberConfig
	if pc.URL == "" && c.Sync.ServerURL != "" {
		pc.URL = strings.TrimRight(c.Sync.ServerURL, "/") + "/healthz"
	}
	return pc
}
