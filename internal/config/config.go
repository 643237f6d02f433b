// Package config loads the service configuration from defaults, an
// optional chainguard.yaml and CHAINGUARD_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// ProviderConfig selects and configures the compute provider.
// Mode is "simulated" (in-process deterministic provider) or "gateway"
// (HTTP submission to a Functions-style gateway that calls back on the
// fulfillment webhook).
type ProviderConfig struct {
	Mode             string        `mapstructure:"mode"`
	GatewayURL       string        `mapstructure:"gateway_url"`
	GatewayAPIKey    string        `mapstructure:"gateway_api_key"`
	CallbackURL      string        `mapstructure:"callback_url"`
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout"`
	SimulatedLatency time.Duration `mapstructure:"simulated_latency"`
}

// OracleConfig tunes the registry itself.
type OracleConfig struct {
	ProgramFile  string        `mapstructure:"program_file"`
	LegacyDecode bool          `mapstructure:"legacy_decode"`
	PendingTTL   time.Duration `mapstructure:"pending_ttl"`
}

// UpkeepConfig tunes the staleness monitor.
type UpkeepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Staleness time.Duration `mapstructure:"staleness"`
	MaxBatch  int           `mapstructure:"max_batch"`
}

// StorageConfig points at the sqlite record store. An empty path keeps
// records in memory only.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the optional event fan-out channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Config is the root service configuration.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Upkeep   UpkeepConfig   `mapstructure:"upkeep"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// Load reads the configuration. A missing config file is not an error;
// defaults plus environment variables are enough to run.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("provider.mode", "simulated")
	v.SetDefault("provider.gateway_url", "")
	v.SetDefault("provider.gateway_api_key", "")
	v.SetDefault("provider.callback_url", "http://localhost:8080/api/v1/fulfillments")
	v.SetDefault("provider.submit_timeout", 10*time.Second)
	v.SetDefault("provider.simulated_latency", 2*time.Second)

	v.SetDefault("oracle.program_file", "")
	v.SetDefault("oracle.legacy_decode", false)
	v.SetDefault("oracle.pending_ttl", 24*time.Hour)

	v.SetDefault("upkeep.enabled", true)
	v.SetDefault("upkeep.interval", 10*time.Minute)
	v.SetDefault("upkeep.staleness", 6*time.Hour)
	v.SetDefault("upkeep.max_batch", 5)

	v.SetDefault("storage.path", "chainguard.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "chainguard:events")

	v.SetConfigName("chainguard")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/chainguard")

	v.SetEnvPrefix("chainguard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Provider.Mode != "simulated" && cfg.Provider.Mode != "gateway" {
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Provider.Mode)
	}
	if cfg.Provider.Mode == "gateway" && cfg.Provider.GatewayURL == "" {
		return nil, fmt.Errorf("provider.gateway_url is required in gateway mode")
	}
	if cfg.Upkeep.MaxBatch <= 0 {
		cfg.Upkeep.MaxBatch = 1
	}

	return cfg, nil
}
