// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Kafka    KafkaConfig    `yaml:"kafka" mapstructure:"kafka"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine" validate:"required"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures the postgres-backed stores. An empty DSN selects
// the in-memory stores.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
}

// KafkaConfig configures the audit-record publisher. Disabled, audit records
// go to the in-process sink only.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// EngineConfig configures the settlement engine instance.
type EngineConfig struct {
	// Address scopes order fingerprints and identifies the engine as a
	// custody operator. Hex-encoded 20 bytes.
	Address string `yaml:"address" mapstructure:"address" validate:"required,len=42"`
	// FeeAccount receives exchange-side fees.
	FeeAccount string `yaml:"fee_account" mapstructure:"fee_account" validate:"required,len=42"`
	// MaxTotalFeeRate caps the sum of a reseller's four fee rates,
	// as a decimal fraction (e.g. "0.005" for 0.5%).
	MaxTotalFeeRate string `yaml:"max_total_fee_rate" mapstructure:"max_total_fee_rate" validate:"required"`
	// CustodyServices lists the custody service addresses to create and
	// whitelist at startup.
	CustodyServices []string `yaml:"custody_services" mapstructure:"custody_services" validate:"dive,len=42"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Load reads configuration from path (optional) and SETTLED_* environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SETTLED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("kafka.topic", "settlement.audit")
	// Registered so env-only overrides are visible to Unmarshal.
	v.SetDefault("engine.address", "")
	v.SetDefault("engine.fee_account", "")
	v.SetDefault("engine.custody_services", []string{})
	v.SetDefault("engine.max_total_fee_rate", "0.005")
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
