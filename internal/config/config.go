// Package config loads cart settings from a config file, CART_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: db.path is read from
// CART_DB_PATH.
const EnvPrefix = "CART"

// Config holds resolved settings.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	User    UserConfig    `mapstructure:"user"`
	Inbox   InboxConfig   `mapstructure:"inbox"`
	Session SessionConfig `mapstructure:"session"`
}

type DBConfig struct {
	// Path to the SQLite database
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	// Port the realtime server listens on
	Port int `mapstructure:"port"`

	// URL of a remote server; when set, commands talk to it instead of
	// opening the database directly
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	File      string `mapstructure:"file"`
	Level     string `mapstructure:"level"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

type UserConfig struct {
	// ID identifies the acting user
	ID string `mapstructure:"id"`
}

type InboxConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type SessionConfig struct {
	// Path of the TOML file remembering each user's last group
	Path string `mapstructure:"path"`
}

// Dir returns the cart configuration directory, honoring XDG_CONFIG_HOME.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "cart")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cart"
	}
	return filepath.Join(home, ".config", "cart")
}

// DefaultConfig returns sensible defaults rooted at dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		DB:      DBConfig{Path: filepath.Join(dir, "cart.db")},
		Server:  ServerConfig{Port: 8787},
		Log:     LogConfig{Level: "info", MaxSizeMB: 10},
		Inbox:   InboxConfig{Dir: filepath.Join(dir, "inbox"), Debounce: 200 * time.Millisecond},
		Session: SessionConfig{Path: filepath.Join(dir, "session.toml")},
	}
}

// Load resolves the configuration. file names an explicit config file; when
// empty, cart.yaml or cart.toml in Dir() is used if present. flags, when
// non-nil, are bound by key name (a flag named "db.path" overrides db.path).
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	dir := Dir()
	setDefaults(v, DefaultConfig(dir))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cart")
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail later and obscurely.
func (c *Config) Validate() error {
	if c.DB.Path == "" && c.Server.URL == "" {
		return fmt.Errorf("db.path or server.url is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Inbox.Debounce < 0 {
		return fmt.Errorf("inbox.debounce must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("user.id", d.User.ID)
	v.SetDefault("inbox.dir", d.Inbox.Dir)
	v.SetDefault("inbox.debounce", d.Inbox.Debounce)
	v.SetDefault("session.path", d.Session.Path)
}
