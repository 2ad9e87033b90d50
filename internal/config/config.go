// Package config loads and validates trainwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/reachrl/trainwatch/internal/run"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Auth     AuthConfig      `mapstructure:"auth"`
	DB       DBConfig        `mapstructure:"db"`
	Storage  StorageConfig   `mapstructure:"storage"`
	PubSub   PubSubConfig    `mapstructure:"pubsub"`
	Monitor  MonitorConfig   `mapstructure:"monitor"`
	Trainer  run.Hyperparams `mapstructure:"trainer"`
	Watch    WatchConfig     `mapstructure:"watch"`
	Progress ProgressConfig  `mapstructure:"progress"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory run store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// StorageConfig selects and configures the artifact blob backend.
type StorageConfig struct {
	// Provider is one of "gcs", "local", "memory", or "noop".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications about run
// milestones.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MonitorConfig governs the reward monitor attached to each run.
type MonitorConfig struct {
	// CheckInterval is the step cadence between monitor checks.
	CheckInterval int64 `mapstructure:"check_interval"`
	// Window is how many recent episodes the mean reward covers.
	Window int `mapstructure:"window"`
	// SaveBest asks the trainer to checkpoint whenever the best mean improves.
	SaveBest bool `mapstructure:"save_best"`
}

// WatchConfig configures watch mode, which polls a trainer's episode log
// file instead of receiving pushes over HTTP.
type WatchConfig struct {
	// Path is the monitor CSV file written by the trainer.
	Path string `mapstructure:"path"`
	// PollSeconds is the file poll cadence.
	PollSeconds int `mapstructure:"poll_seconds"`
	// EnvID labels metrics emitted for the watched run.
	EnvID string `mapstructure:"env_id"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize   int `mapstructure:"buffer_size"`
	BatchSize    int `mapstructure:"batch_size"`
	FlushMs      int `mapstructure:"flush_ms"`
	SinkTimeoutS int `mapstructure:"sink_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRAINWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("monitor.check_interval", 1000)
	v.SetDefault("monitor.window", 100)
	v.SetDefault("monitor.save_best", false)
	v.SetDefault("trainer.algo", "sac")
	v.SetDefault("trainer.learning_rate", 3e-4)
	v.SetDefault("trainer.buffer_size", 1_000_000)
	v.SetDefault("trainer.batch_size", 256)
	v.SetDefault("trainer.gamma", 0.99)
	v.SetDefault("trainer.tau", 0.005)
	v.SetDefault("trainer.ent_coef", "auto")
	v.SetDefault("trainer.train_freq", 1)
	v.SetDefault("trainer.learning_starts", 100)
	v.SetDefault("trainer.total_timesteps", 200_000)
	v.SetDefault("trainer.eval_episodes", 10)
	v.SetDefault("watch.poll_seconds", 5)
	v.SetDefault("watch.env_id", "unknown")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_size", 512)
	v.SetDefault("progress.flush_ms", 500)
	v.SetDefault("progress.sink_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor.check_interval must be > 0")
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ServerTimeout converts the configured request timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// WatchPoll converts the watch poll cadence into a duration.
func (c Config) WatchPoll() time.Duration {
	return time.Duration(c.Watch.PollSeconds) * time.Second
}

// HubConfig converts the progress section into hub settings. Zero values
// fall back to the hub's own defaults.
func (c Config) HubConfig() (bufferSize, batchSize int, flush, sinkTimeout time.Duration) {
	return c.Progress.BufferSize,
		c.Progress.BatchSize,
		time.Duration(c.Progress.FlushMs) * time.Millisecond,
		time.Duration(c.Progress.SinkTimeoutS) * time.Second
}
