// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config carries everything the server needs to come up. Values resolve in
// the usual viper order: explicit flags, then TUSK_* environment variables,
// then the config file, then defaults.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the given file (optional) plus the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("tusk")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TUSK")
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("data_dir", ".tusk")
	v.SetDefault("log_level", "info")

	// A missing config file is fine, env and defaults still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "db")
}

func (c *Config) ObjectsPath() string {
	return filepath.Join(c.DataDir, "objects")
}
