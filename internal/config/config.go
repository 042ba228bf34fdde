// Package config loads the TOML configuration file into a typed struct
// that is threaded explicitly through constructors from main. There is
// no process-wide config global.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	API    APIConfig      `toml:"api"`
	Server ServerSections `toml:"server"`
}

type APIConfig struct {
	Domain string `toml:"domain"`
	Secure bool   `toml:"secure"`
	Local  bool   `toml:"local"`
}

type ServerSections struct {
	API      APIServerConfig `toml:"api"`
	Postgres PostgresConfig  `toml:"postgres"`
}

// APIServerConfig holds the tunables named in the external interfaces
// section: listen address, proxy trust, credential lifetimes, sweeper
// cadence, and the WebSocket connection manager's limits.
type APIServerConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	Proxy            bool   `toml:"proxy"`
	AccessTime       int    `toml:"access_time"`
	RefreshTime      int    `toml:"refresh_time"`
	MaxTokensPerUser int    `toml:"max_tokens_per_user"`
	TaskInterval     int    `toml:"task_interval"`
	WSHeartbeat      int    `toml:"ws_heartbeat"`
	WSMaxMessageSize int    `toml:"ws_max_message_size"` // KiB
	WSMessageLimit   int    `toml:"ws_message_limit"`
	WSMessageInterval int   `toml:"ws_message_interval"`
	ResourceGrace    int    `toml:"resource_grace"`
}

func (c APIServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c APIServerConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTime) * time.Second
}

func (c APIServerConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTime) * time.Second
}

func (c APIServerConfig) TaskIntervalDuration() time.Duration {
	return time.Duration(c.TaskInterval) * time.Second
}

func (c APIServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.WSHeartbeat) * time.Second
}

func (c APIServerConfig) MaxMessageBytes() int64 {
	return int64(c.WSMaxMessageSize) * 1024
}

func (c APIServerConfig) MessageWindow() time.Duration {
	return time.Duration(c.WSMessageInterval) * time.Second
}

func (c APIServerConfig) ResourceGraceDuration() time.Duration {
	return time.Duration(c.ResourceGrace) * time.Second
}

type PostgresConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Database    string `toml:"database"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	MinPoolSize int    `toml:"min_pool_size"`
	MaxPoolSize int    `toml:"max_pool_size"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?pool_min_conns=%d&pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Database, c.MinPoolSize, c.MaxPoolSize,
	)
}

// MigrateURL is the golang-migrate pgx5-scheme connection string, kept
// separate from DSN since golang-migrate rejects pgxpool's
// pool_min_conns/pool_max_conns query parameters.
func (c PostgresConfig) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// Load reads and decodes the TOML configuration file at path, applying
// defaults for anything the file omits before validating required
// fields.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		API: APIConfig{
			Domain: "localhost",
			Secure: false,
			Local:  true,
		},
		Server: ServerSections{
			API: APIServerConfig{
				Host:              "0.0.0.0",
				Port:              8080,
				Proxy:             false,
				AccessTime:        900,
				RefreshTime:       604800,
				MaxTokensPerUser:  5,
				TaskInterval:      30,
				WSHeartbeat:       20,
				WSMaxMessageSize:  64,
				WSMessageLimit:    20,
				WSMessageInterval: 10,
				ResourceGrace:     300,
			},
			Postgres: PostgresConfig{
				Host:        "localhost",
				Port:        5432,
				Database:    "quotecontrol",
				User:        "quotecontrol",
				MinPoolSize: 2,
				MaxPoolSize: 10,
			},
		},
	}
}

func validate(cfg *Config) error {
	var missing []string
	if cfg.Server.Postgres.Database == "" {
		missing = append(missing, "server.postgres.database")
	}
	if cfg.Server.API.MaxTokensPerUser <= 0 {
		missing = append(missing, "server.api.max_tokens_per_user")
	}
	if cfg.Server.API.AccessTime <= 0 || cfg.Server.API.RefreshTime <= 0 {
		missing = append(missing, "server.api.access_time/refresh_time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: invalid or missing fields: %v", missing)
	}
	return nil
}
