// Package config loads msync settings from defaults, an optional config
// file, MSYNC_* environment variables and command line flags, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Output store kinds.
const (
	StoreDir    = "dir"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// EnvPrefix prefixes every environment variable, e.g. MSYNC_WORKERS.
const EnvPrefix = "MSYNC"

// Config is the resolved configuration.
type Config struct {
	SourceRoot  string          `mapstructure:"source_root"`
	Output      OutputConfig    `mapstructure:"output"`
	Workers     int             `mapstructure:"workers"`
	Incremental bool            `mapstructure:"incremental"`
	Strict      bool            `mapstructure:"strict"`
	Watch       WatchConfig     `mapstructure:"watch"`
	Dashboard   DashboardConfig `mapstructure:"dashboard"`
	Log         LogConfig       `mapstructure:"log"`
	Verbose     bool            `mapstructure:"verbose"`
}

// OutputConfig selects where derived outputs are written.
type OutputConfig struct {
	Store      string `mapstructure:"store"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Suffix     string `mapstructure:"suffix"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig enables the dashboard while watching. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("source_root", ".")
	v.SetDefault("output.store", StoreDir)
	v.SetDefault("output.dir", ".msync/out")
	v.SetDefault("output.sqlite_path", ".msync/outputs.db")
	v.SetDefault("output.suffix", ".out")
	v.SetDefault("workers", 4)
	v.SetDefault("incremental", true)
	v.SetDefault("strict", false)
	v.SetDefault("watch.debounce", "200ms")
	v.SetDefault("dashboard.port", 0)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and decodes the settings held by v. An
// explicit file must exist; otherwise .msync.{yaml,toml,json} is looked up
// in the working directory and then $HOME, and a missing file is not an
// error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".msync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges and required combinations.
func (c *Config) Validate() error {
	switch c.Output.Store {
	case StoreDir:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir is required for the %s store", StoreDir)
		}
	case StoreSQLite:
		if c.Output.SQLitePath == "" {
			return fmt.Errorf("output.sqlite_path is required for the %s store", StoreSQLite)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown output.store %q (want %s, %s or %s)", c.Output.Store, StoreDir, StoreSQLite, StoreMemory)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}
