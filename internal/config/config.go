// Package config loads node configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct.
type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	Privacy PrivacyConfig `mapstructure:"privacy"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Data    DataConfig    `mapstructure:"data"`
	Log     LogConfig     `mapstructure:"log"`
}

// NetworkConfig holds the overlay transport settings.
type NetworkConfig struct {
	ListenAddr        string        `mapstructure:"listenAddr"`
	MaxConnections    int           `mapstructure:"maxConnections"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	DiscoveryInterval time.Duration `mapstructure:"discoveryInterval"`
	Bootstrap         []string      `mapstructure:"bootstrap"` // Bootstrap lists peers dialed at startup
}

// PrivacyConfig holds the privacy layer settings.
type PrivacyConfig struct {
	KeyPath string `mapstructure:"keyPath"` // KeyPath stores the symmetric data key; empty means ephemeral
}

// HTTPConfig holds the admin API settings.
type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// DataConfig holds on-disk state locations.
type DataConfig struct {
	Path    string `mapstructure:"path"`    // Path is the node's state directory
	KeyPath string `mapstructure:"keyPath"` // KeyPath stores the transport identity key
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate checks the loaded configuration for structural problems.
func (c *Config) Validate() error {
	if c.Network.ListenAddr == "" {
		return fmt.Errorf("network.listenAddr is required")
	}

	if c.Network.MaxConnections <= 0 {
		return fmt.Errorf("network.maxConnections must be positive")
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when the admin api is enabled")
	}

	return nil
}

// Load reads configuration from file and environment. A missing config
// file is not an error; defaults and environment variables apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("network.listenAddr", ":9470")
	v.SetDefault("network.maxConnections", 50)
	v.SetDefault("network.heartbeatInterval", 30*time.Second)
	v.SetDefault("network.discoveryInterval", 60*time.Second)
	v.SetDefault("network.bootstrap", []string{})
	v.SetDefault("privacy.keyPath", "")
	v.SetDefault("http.addr", "127.0.0.1:8470")
	v.SetDefault("http.enabled", true)
	v.SetDefault("data.path", "./data")
	v.SetDefault("data.keyPath", "./data/node.key")
	v.SetDefault("log.level", "info")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("PRIVMESH")
	// Nested keys use dots; environment variables use underscores
	// (network.maxConnections -> PRIVMESH_NETWORK_MAXCONNECTIONS).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
