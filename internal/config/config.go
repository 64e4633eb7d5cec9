// Package config provides configuration loading for the cubecompile CLI:
// viper-based layered config (defaults -> config file -> env vars) for the
// schema source, target dialect, e-graph saturation limits, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the cubecompile configuration.
type Config struct {
	// Schema configures where cube definitions are loaded from.
	Schema SchemaConfig `mapstructure:"schema"`

	// Dialect is the default target SQL dialect name (postgres, mysql,
	// duckdb, snowflake, bigquery, trino).
	Dialect string `mapstructure:"dialect"`

	// Saturation caps the e-graph equality-saturation loop.
	Saturation SaturationConfig `mapstructure:"saturation"`

	// Logging configures the compile-event logger.
	Logging LoggingConfig `mapstructure:"logging"`
}

// SchemaConfig locates the cube definition document.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// SaturationConfig caps the rewriter's equality-saturation loop.
type SaturationConfig struct {
	MaxIterations int           `mapstructure:"maxIterations"`
	MaxNodes      int           `mapstructure:"maxNodes"`
	MaxTime       time.Duration `mapstructure:"maxTime"`
}

// LoggingConfig configures the compile-event logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Schema:  SchemaConfig{Path: "schema.yaml"},
		Dialect: "postgres",
		Saturation: SaturationConfig{
			MaxIterations: 30,
			MaxNodes:      50_000,
			MaxTime:       2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from configPath (or the default search paths)
// and the environment, layered over DefaultConfig's values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".cubecompile"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CUBECOMPILE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schema.path", "schema.yaml")
	v.SetDefault("dialect", "postgres")
	v.SetDefault("saturation.maxIterations", 30)
	v.SetDefault("saturation.maxNodes", 50_000)
	v.SetDefault("saturation.maxTime", "2s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
