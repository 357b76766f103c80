// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/listforge/listforge/internal/orchestrator"
	"github.com/listforge/listforge/internal/publisher"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig                   `mapstructure:"server"`
	Auth        AuthConfig                     `mapstructure:"auth"`
	Transport   TransportConfig                `mapstructure:"transport"`
	Workers     WorkerConfig                   `mapstructure:"workers"`
	Guardrails  GuardrailConfig                `mapstructure:"guardrails"`
	Scheduler   SchedulerConfig                `mapstructure:"scheduler"`
	Stores      map[string]StoreScheduleConfig `mapstructure:"stores"`
	Publishers  map[string]publisher.Config    `mapstructure:"publishers"`
	Idempotency IdempotencyConfig              `mapstructure:"idempotency"`
	Storage     StorageConfig                  `mapstructure:"storage"`
	PubSub      PubSubConfig                   `mapstructure:"pubsub"`
	Logging     LoggingConfig                  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// TransportConfig governs outbound fetch behavior.
type TransportConfig struct {
	UserAgent        string   `mapstructure:"user_agent"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	MaxRetries       int      `mapstructure:"max_retries"`
	BackoffInitialMs int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int      `mapstructure:"backoff_max_ms"`
	MaxPerHost       int      `mapstructure:"max_per_host"`
	HostRPS          float64  `mapstructure:"host_rps"`
	HostBurst        int      `mapstructure:"host_burst"`
	CacheTTLSeconds  int      `mapstructure:"cache_ttl_seconds"`
	Proxies          []string `mapstructure:"proxies"`
}

// WorkerConfig controls the dispatcher pool.
type WorkerConfig struct {
	Count          int `mapstructure:"count"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// GuardrailConfig tunes the publish quality gate.
type GuardrailConfig struct {
	MinTitleLength       int     `mapstructure:"min_title_length"`
	MinDescriptionLength int     `mapstructure:"min_description_length"`
	MinConfidenceScore   float64 `mapstructure:"min_confidence_score"`
}

// SchedulerConfig holds the default publication policy.
type SchedulerConfig struct {
	ActiveHoursStart       int `mapstructure:"active_hours_start"`
	ActiveHoursEnd         int `mapstructure:"active_hours_end"`
	CooldownSeconds        int `mapstructure:"cooldown_seconds"`
	MaxPublicationsPerHour int `mapstructure:"max_publications_per_hour"`
}

// StoreScheduleConfig overrides the default policy for one store.
type StoreScheduleConfig struct {
	ActiveHoursStart       int     `mapstructure:"active_hours_start"`
	ActiveHoursEnd         int     `mapstructure:"active_hours_end"`
	CooldownSeconds        int     `mapstructure:"cooldown_seconds"`
	MaxPublicationsPerHour int     `mapstructure:"max_publications_per_hour"`
	MinConfidenceScore     float64 `mapstructure:"min_confidence_score"`
}

// IdempotencyConfig selects and configures the published-listings ledger.
type IdempotencyConfig struct {
	Provider string   `mapstructure:"provider"`
	DB       DBConfig `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects where raw pages are archived.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for result event notifications.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LISTFORGE")
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
	v.SetDefault("transport.user_agent", "listforge-bot/1.0")
	v.SetDefault("transport.timeout_seconds", 15)
	v.SetDefault("transport.max_retries", 3)
	v.SetDefault("transport.backoff_initial_ms", 250)
	v.SetDefault("transport.backoff_max_ms", 5000)
	v.SetDefault("transport.max_per_host", 2)
	v.SetDefault("transport.cache_ttl_seconds", 60)
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.poll_interval_ms", 1000)
	v.SetDefault("guardrails.min_title_length", 10)
	v.SetDefault("guardrails.min_description_length", 30)
	v.SetDefault("guardrails.min_confidence_score", 0.7)
	v.SetDefault("scheduler.active_hours_start", 0)
	v.SetDefault("scheduler.active_hours_end", 24)
	v.SetDefault("scheduler.max_publications_per_hour", 10)
	v.SetDefault("idempotency.provider", "memory")
	v.SetDefault("idempotency.db.table", "published_listings")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("pubsub.topic_name", "listforge.results")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Transport.TimeoutSeconds <= 0 {
		return fmt.Errorf("transport.timeout_seconds must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := validateWindow("scheduler", c.Scheduler.ActiveHoursStart, c.Scheduler.ActiveHoursEnd); err != nil {
		return err
	}
	for storeID, store := range c.Stores {
		if err := validateWindow("stores."+storeID, store.ActiveHoursStart, store.ActiveHoursEnd); err != nil {
			return err
		}
		if store.MinConfidenceScore < 0 || store.MinConfidenceScore > 1 {
			return fmt.Errorf("stores.%s.min_confidence_score must be in [0, 1]", storeID)
		}
	}
	if c.Guardrails.MinConfidenceScore < 0 || c.Guardrails.MinConfidenceScore > 1 {
		return fmt.Errorf("guardrails.min_confidence_score must be in [0, 1]")
	}
	switch c.Idempotency.Provider {
	case "memory":
	case "postgres":
		if c.Idempotency.DB.DSN == "" {
			return fmt.Errorf("idempotency.db.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown idempotency provider %q", c.Idempotency.Provider)
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	switch c.PubSub.Provider {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown pubsub provider %q", c.PubSub.Provider)
	}
	return nil
}

func validateWindow(prefix string, start, end int) error {
	if start < 0 || start > 23 {
		return fmt.Errorf("%s.active_hours_start must be in [0, 23]", prefix)
	}
	if end < 0 || end > 24 {
		return fmt.Errorf("%s.active_hours_end must be in [0, 24]", prefix)
	}
	// Zero/zero means unset and inherits the default window.
	if start == end && start != 0 {
		return fmt.Errorf("%s active hours window is empty (start == end)", prefix)
	}
	return nil
}

// SchedulerDefaults converts the config into the scheduler's policy type.
func (c Config) SchedulerDefaults() orchestrator.StoreConfig {
	return orchestrator.StoreConfig{
		ActiveHoursStart:       c.Scheduler.ActiveHoursStart,
		ActiveHoursEnd:         c.Scheduler.ActiveHoursEnd,
		Cooldown:               time.Duration(c.Scheduler.CooldownSeconds) * time.Second,
		MaxPublicationsPerHour: c.Scheduler.MaxPublicationsPerHour,
		MinConfidenceScore:     c.Guardrails.MinConfidenceScore,
	}
}

// StoreConfigs converts per-store overrides into scheduler policies.
func (c Config) StoreConfigs() map[string]orchestrator.StoreConfig {
	if len(c.Stores) == 0 {
		return nil
	}
	out := make(map[string]orchestrator.StoreConfig, len(c.Stores))
	for storeID, store := range c.Stores {
		out[storeID] = orchestrator.StoreConfig{
			ActiveHoursStart:       store.ActiveHoursStart,
			ActiveHoursEnd:         store.ActiveHoursEnd,
			Cooldown:               time.Duration(store.CooldownSeconds) * time.Second,
			MaxPublicationsPerHour: store.MaxPublicationsPerHour,
			MinConfidenceScore:     store.MinConfidenceScore,
		}
	}
	return out
}

// FetchTimeout converts the transport timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutSeconds) * time.Second
}
