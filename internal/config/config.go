// Package config loads engine configuration from a yaml file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync engine.
type Config struct {
	Participants ParticipantsConfig
	Remote       RemoteConfig
	Storage      StorageConfig
	Scheduler    SchedulerConfig
	Server       ServerConfig
}

// ParticipantsConfig names the two people sharing the ledger.
// Balance convention: positive balance means Second owes First.
type ParticipantsConfig struct {
	First  string
	Second string
}

// Pair returns the participants as a fixed-size array, first then second.
func (p ParticipantsConfig) Pair() [2]string {
	return [2]string{p.First, p.Second}
}

// RemoteConfig holds remote ledger client configuration.
type RemoteConfig struct {
	// BaseURL is the remote ledger service root, e.g. "https://ledger.example.com".
	BaseURL string

	// CreateTimeout bounds a single create call. Default 5s.
	CreateTimeout time.Duration

	// DeviceSecret, when set, enables signed bearer tokens on outbound
	// requests. Empty disables the Authorization header.
	DeviceSecret string

	// DeviceID identifies this device in the token subject claim.
	DeviceID string
}

// StorageConfig holds durable store configuration.
type StorageConfig struct {
	// DBPath is the SQLite database file path.
	DBPath string
}

// SchedulerConfig holds retry cadence configuration.
type SchedulerConfig struct {
	// PassiveInterval is the retry cadence while backgrounded. Default 5m.
	PassiveInterval time.Duration

	// ForegroundInterval is the opportunistic cadence while the app is
	// foregrounded. Default 3s.
	ForegroundInterval time.Duration
}

// ServerConfig holds the admin HTTP endpoint configuration for the daemon.
type ServerConfig struct {
	// Addr is the listen address for /metrics and /healthz.
	Addr string
}

// Load reads configuration from the given file (optional) and PAIRLEDGER_*
// environment variables, applying defaults for everything else.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("Participants.First", "")
	v.SetDefault("Participants.Second", "")
	v.SetDefault("Remote.BaseURL", "http://localhost:8080")
	v.SetDefault("Remote.CreateTimeout", "5s")
	v.SetDefault("Remote.DeviceSecret", "")
	v.SetDefault("Remote.DeviceID", "")
	v.SetDefault("Storage.DBPath", "./data/pairledger.db")
	v.SetDefault("Scheduler.PassiveInterval", "5m")
	v.SetDefault("Scheduler.ForegroundInterval", "3s")
	v.SetDefault("Server.Addr", ":9090")

	v.SetEnvPrefix("PAIRLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// A missing default config file is fine; defaults and env apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Participants.First == "" || c.Participants.Second == "" {
		return fmt.Errorf("both participants must be configured")
	}
	if c.Participants.First == c.Participants.Second {
		return fmt.Errorf("participants must be two distinct names")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base URL is required")
	}
	if c.Remote.CreateTimeout <= 0 {
		c.Remote.CreateTimeout = 5 * time.Second
	}
	if c.Scheduler.PassiveInterval <= 0 {
		c.Scheduler.PassiveInterval = 5 * time.Minute
	}
	if c.Scheduler.ForegroundInterval <= 0 {
		c.Scheduler.ForegroundInterval = 3 * time.Second
	}
	return nil
}
