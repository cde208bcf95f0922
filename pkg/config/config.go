package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Admin server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:feedcourier.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule" jsonschema:"description=Poll scheduler configuration"`

	Fetch FetchConfig `yaml:"fetch" json:"fetch" jsonschema:"description=Feed fetcher configuration"`

	Webhook struct {
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10s,description=Webhook delivery timeout"`
	} `yaml:"webhook" json:"webhook" jsonschema:"description=Outbound webhook configuration"`
}

// ScheduleConfig holds poll scheduling settings. Intervals are in seconds
// to match what the store persists per source.
type ScheduleConfig struct {
	Tick            time.Duration `yaml:"tick" json:"tick" jsonschema:"default=30s,description=How often the scheduler checks for due sources"`
	DefaultInterval int           `yaml:"default_interval" json:"default_interval" jsonschema:"default=900,description=Default poll interval in seconds"`
	MinInterval     int           `yaml:"min_interval" json:"min_interval" jsonschema:"default=300,description=Minimum poll interval in seconds"`
	MaxInterval     int           `yaml:"max_interval" json:"max_interval" jsonschema:"default=43200,description=Maximum poll interval in seconds"`
	WarmupCycles    int           `yaml:"warmup_cycles" json:"warmup_cycles" jsonschema:"default=3,description=Poll cycles before cadence estimation kicks in"`
	MaxItemsPerPoll int           `yaml:"max_items_per_poll" json:"max_items_per_poll" jsonschema:"default=5,description=Maximum items forwarded per poll cycle"`
	RetentionDays   int           `yaml:"retention_days" json:"retention_days" jsonschema:"default=90,description=Days to keep forwarded item records"`
}

// FetchConfig holds feed fetcher settings
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP timeout per fetch"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=FeedCourier/1.0,description=User agent for feed requests"`
	MaxBodySize  int64         `yaml:"max_body_size" json:"max_body_size" jsonschema:"default=5242880,description=Maximum response body size in bytes"`
	PerHostLimit int64         `yaml:"per_host_limit" json:"per_host_limit" jsonschema:"default=2,description=Maximum concurrent fetches per host"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	// set defaults for server
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if c.Database.DSN == "" {
		c.Database.DSN = "file:feedcourier.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}

	// set defaults for schedule
	if c.Schedule.Tick == 0 {
		c.Schedule.Tick = 30 * time.Second
	}
	if c.Schedule.DefaultInterval == 0 {
		c.Schedule.DefaultInterval = 900
	}
	if c.Schedule.MinInterval == 0 {
		c.Schedule.MinInterval = 300
	}
	if c.Schedule.MaxInterval == 0 {
		c.Schedule.MaxInterval = 43200
	}
	if c.Schedule.WarmupCycles == 0 {
		c.Schedule.WarmupCycles = 3
	}
	if c.Schedule.MaxItemsPerPoll == 0 {
		c.Schedule.MaxItemsPerPoll = 5
	}
	if c.Schedule.RetentionDays == 0 {
		c.Schedule.RetentionDays = 90
	}

	// set defaults for fetch
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "FeedCourier/1.0 (+https://github.com/feedcourier/feedcourier)"
	}
	if c.Fetch.MaxBodySize == 0 {
		c.Fetch.MaxBodySize = 5 * 1024 * 1024
	}
	if c.Fetch.PerHostLimit == 0 {
		c.Fetch.PerHostLimit = 2
	}

	// set defaults for webhook
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Schedule.MinInterval < 1 {
		return fmt.Errorf("schedule.min_interval must be positive")
	}
	if cfg.Schedule.MaxInterval < cfg.Schedule.MinInterval {
		return fmt.Errorf("schedule.max_interval must be >= schedule.min_interval")
	}
	if cfg.Schedule.DefaultInterval < cfg.Schedule.MinInterval ||
		cfg.Schedule.DefaultInterval > cfg.Schedule.MaxInterval {
		return fmt.Errorf("schedule.default_interval must be within [min_interval, max_interval]")
	}
	if cfg.Schedule.MaxItemsPerPoll < 1 {
		return fmt.Errorf("schedule.max_items_per_poll must be at least 1")
	}
	if cfg.Schedule.WarmupCycles < 0 {
		return fmt.Errorf("schedule.warmup_cycles must be non-negative")
	}

	if cfg.Fetch.Timeout < time.Second {
		return fmt.Errorf("fetch.timeout must be at least 1 second")
	}
	if cfg.Fetch.MaxBodySize < 1024 {
		return fmt.Errorf("fetch.max_body_size must be at least 1KB")
	}
	if cfg.Fetch.PerHostLimit < 1 {
		return fmt.Errorf("fetch.per_host_limit must be at least 1")
	}

	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}
