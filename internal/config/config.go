package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "leadwire"
	DefaultPGSSLMode    = "disable"
	DefaultPollInterval = "4s"
	DefaultProviderURL  = "http://127.0.0.1:9090"
	DefaultResponderURL = "http://127.0.0.1:9091"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Provider  ProviderConfig  `toml:"provider"`
	Responder ResponderConfig `toml:"responder"`
	Router    RouterConfig    `toml:"router"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// ProviderConfig points at the external session-provider service that owns
// the actual channel transports (QR pairing, long polling).
type ProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	PollInterval   string `toml:"poll_interval"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PollIntervalDuration returns the health poll interval, falling back to the
// provider-recommended default when unset or unparsable.
func (c ProviderConfig) PollIntervalDuration() time.Duration {
	if c.PollInterval != "" {
		if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
			return d
		}
	}
	d, _ := time.ParseDuration(DefaultPollInterval)
	return d
}

type ResponderConfig struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RouterConfig controls how inbound events with no learned tenant mapping are
// handled. Strict mode drops them; otherwise DefaultTenant receives them.
type RouterConfig struct {
	DefaultTenant string `toml:"default_tenant"`
	Strict        bool   `toml:"strict"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Provider: ProviderConfig{
			BaseURL:      DefaultProviderURL,
			PollInterval: DefaultPollInterval,
		},
		Responder: ResponderConfig{
			BaseURL: DefaultResponderURL,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
