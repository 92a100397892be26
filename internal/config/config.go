// Package config loads portal-session settings from an optional env file and
// PORTAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Credential store kinds
const (
	StoreFS        = "fs"
	StoreSQLite    = "sqlite"
	StoreRedis     = "redis"
	StoreDatastore = "datastore"
	StoreMemory    = "memory"
)

// Config holds all application configuration
type Config struct {
	App     AppConfig
	Portal  PortalConfig
	Server  ServerConfig
	Session SessionConfig
	Store   StoreConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name     string
	LogLevel string
}

// PortalConfig locates the portal backend and its identity provider
type PortalConfig struct {
	APIURL    string
	AuthUIURL string
	// PublicURL is the origin browsers use to reach this app; the login
	// callback is served under it
	PublicURL      string
	RequestTimeout time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	// Addr defaults to loopback; set PORTAL_LISTEN_ADDR (e.g. ":3000") to
	// accept connections from other hosts. The /api/ proxy attaches the
	// session's bearer token for any caller that can reach it.
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SessionConfig tunes proactive refresh
type SessionConfig struct {
	RefreshMargin  time.Duration
	RefreshFloor   time.Duration
	RefreshTimeout time.Duration
}

// StoreConfig selects and configures the credential store
type StoreConfig struct {
	Kind string

	// fs
	Path       string
	Passphrase string

	// sqlite
	SQLitePath string

	// redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// datastore
	DatastoreProject   string
	DatastoreNamespace string
}

// Load reads configuration. An empty path reads ./.env if it exists; a
// non-empty path must exist. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")

	if path == "" {
		v.SetConfigFile(".env")
		// A missing .env is fine, the environment may carry everything
		_ = v.ReadInConfig()
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	cfg := bindConfig(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORTAL_APP_NAME", "portalauth")
	v.SetDefault("PORTAL_LOG_LEVEL", "info")

	v.SetDefault("PORTAL_API_URL", "http://localhost:8080")
	v.SetDefault("PORTAL_AUTH_UI_URL", "http://localhost:8080/idp/")
	v.SetDefault("PORTAL_PUBLIC_URL", "http://localhost:3000")
	v.SetDefault("PORTAL_REQUEST_TIMEOUT", "15s")

	v.SetDefault("PORTAL_LISTEN_ADDR", "127.0.0.1:3000")
	v.SetDefault("PORTAL_READ_TIMEOUT", "30s")
	v.SetDefault("PORTAL_WRITE_TIMEOUT", "30s")

	v.SetDefault("PORTAL_REFRESH_MARGIN", "60s")
	v.SetDefault("PORTAL_REFRESH_FLOOR", "5s")
	v.SetDefault("PORTAL_REFRESH_TIMEOUT", "30s")

	v.SetDefault("PORTAL_STORE", StoreFS)
	v.SetDefault("PORTAL_STORE_PATH", "")
	v.SetDefault("PORTAL_STORE_PASSPHRASE", "")
	v.SetDefault("PORTAL_SQLITE_PATH", "~/.config/portalauth/credentials.db")
	v.SetDefault("PORTAL_REDIS_ADDR", "localhost:6379")
	v.SetDefault("PORTAL_REDIS_PASSWORD", "")
	v.SetDefault("PORTAL_REDIS_DB", 0)
	v.SetDefault("PORTAL_REDIS_KEY_PREFIX", "")
	v.SetDefault("PORTAL_DATASTORE_PROJECT", "")
	v.SetDefault("PORTAL_DATASTORE_NAMESPACE", "")
}

func bindConfig(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name:     v.GetString("PORTAL_APP_NAME"),
			LogLevel: v.GetString("PORTAL_LOG_LEVEL"),
		},
		Portal: PortalConfig{
			APIURL:         v.GetString("PORTAL_API_URL"),
			AuthUIURL:      v.GetString("PORTAL_AUTH_UI_URL"),
			PublicURL:      v.GetString("PORTAL_PUBLIC_URL"),
			RequestTimeout: v.GetDuration("PORTAL_REQUEST_TIMEOUT"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("PORTAL_LISTEN_ADDR"),
			ReadTimeout:  v.GetDuration("PORTAL_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("PORTAL_WRITE_TIMEOUT"),
		},
		Session: SessionConfig{
			RefreshMargin:  v.GetDuration("PORTAL_REFRESH_MARGIN"),
			RefreshFloor:   v.GetDuration("PORTAL_REFRESH_FLOOR"),
			RefreshTimeout: v.GetDuration("PORTAL_REFRESH_TIMEOUT"),
		},
		Store: StoreConfig{
			Kind:               strings.ToLower(v.GetString("PORTAL_STORE")),
			Path:               v.GetString("PORTAL_STORE_PATH"),
			Passphrase:         v.GetString("PORTAL_STORE_PASSPHRASE"),
			SQLitePath:         v.GetString("PORTAL_SQLITE_PATH"),
			RedisAddr:          v.GetString("PORTAL_REDIS_ADDR"),
			RedisPassword:      v.GetString("PORTAL_REDIS_PASSWORD"),
			RedisDB:            v.GetInt("PORTAL_REDIS_DB"),
			RedisKeyPrefix:     v.GetString("PORTAL_REDIS_KEY_PREFIX"),
			DatastoreProject:   v.GetString("PORTAL_DATASTORE_PROJECT"),
			DatastoreNamespace: v.GetString("PORTAL_DATASTORE_NAMESPACE"),
		},
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if err := requireURL("PORTAL_API_URL", c.Portal.APIURL); err != nil {
		return err
	}
	if err := requireURL("PORTAL_AUTH_UI_URL", c.Portal.AuthUIURL); err != nil {
		return err
	}
	if err := requireURL("PORTAL_PUBLIC_URL", c.Portal.PublicURL); err != nil {
		return err
	}
	if c.Portal.RequestTimeout <= 0 {
		return errors.New("PORTAL_REQUEST_TIMEOUT must be positive")
	}
	if c.Session.RefreshMargin < 0 {
		return errors.New("PORTAL_REFRESH_MARGIN must not be negative")
	}
	if c.Session.RefreshFloor <= 0 {
		return errors.New("PORTAL_REFRESH_FLOOR must be positive")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("PORTAL_REFRESH_TIMEOUT must be positive")
	}
	if _, err := zerolog.ParseLevel(c.App.LogLevel); err != nil {
		return fmt.Errorf("PORTAL_LOG_LEVEL: %w", err)
	}

	switch c.Store.Kind {
	case StoreFS, StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("PORTAL_SQLITE_PATH is required for the sqlite store")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("PORTAL_REDIS_ADDR is required for the redis store")
		}
	case StoreDatastore:
		if c.Store.DatastoreProject == "" {
			return errors.New("PORTAL_DATASTORE_PROJECT is required for the datastore store")
		}
	default:
		return fmt.Errorf("unknown PORTAL_STORE %q", c.Store.Kind)
	}
	return nil
}

// Level returns the configured log level, info when unset
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func requireURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}
