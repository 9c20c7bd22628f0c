package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the replicator service configuration
type ServerConfig struct {
	NodeID          string `yaml:"node_id"`
	Host            string `yaml:"host"`
	ReplicatorPort  int    `yaml:"replicator_port"`
	IOThreads       int    `yaml:"io_threads"`
	ExecutorThreads int    `yaml:"executor_threads"`
}

// ReplicationConfig holds the per-database replication tunables
type ReplicationConfig struct {
	// Mode 1 returns from a leader write as soon as the local storage
	// engine commits. Mode 2 blocks until one non-observer peer acks.
	Mode int `yaml:"mode"`

	Timeout                      time.Duration `yaml:"timeout"`
	TimeoutDegraded              time.Duration `yaml:"timeout_degraded"`
	AckTimeoutsBeforeDegradation int           `yaml:"ack_timeouts_before_degradation"`

	MaxServerWaitTime             time.Duration `yaml:"max_server_wait_time"`
	ClientServerTimeoutDifference time.Duration `yaml:"client_server_timeout_difference"`
	PullDelayOnError              time.Duration `yaml:"pull_delay_on_error"`

	ResetUpstreamOnEmptyUpdatesFromNonLeader   bool `yaml:"reset_upstream_on_empty_updates_from_non_leader"`
	MaxConsecutiveNoUpdatesBeforeUpstreamReset int  `yaml:"max_consecutive_no_updates_before_upstream_reset"`

	SweepInterval     time.Duration `yaml:"sweep_interval"`
	ClientIdleTimeout time.Duration `yaml:"client_idle_timeout"`
}

// GossipConfig holds the upstream-resolver gossip configuration
type GossipConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BindPort  int      `yaml:"bind_port"`
	SeedNodes []string `yaml:"seed_nodes"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig declares a database the daemon hosts at startup
type DatabaseConfig struct {
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	UpstreamAddr string `yaml:"upstream_addr"`
}

// Config represents the complete configuration for a replicator host
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Replication ReplicationConfig `yaml:"replication"`
	Gossip      GossipConfig      `yaml:"gossip"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Databases   []DatabaseConfig  `yaml:"databases"`
}

// Load loads configuration from a file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ReplicatorPort == 0 {
		cfg.Server.ReplicatorPort = 9091
	}
	if cfg.Server.IOThreads == 0 {
		cfg.Server.IOThreads = 8
	}
	if cfg.Server.ExecutorThreads == 0 {
		cfg.Server.ExecutorThreads = 32
	}

	if cfg.Replication.Mode == 0 {
		cfg.Replication.Mode = 1
	}
	if cfg.Replication.Timeout == 0 {
		cfg.Replication.Timeout = 2 * time.Second
	}
	if cfg.Replication.TimeoutDegraded == 0 {
		cfg.Replication.TimeoutDegraded = 500 * time.Millisecond
	}
	if cfg.Replication.AckTimeoutsBeforeDegradation == 0 {
		cfg.Replication.AckTimeoutsBeforeDegradation = 30
	}
	if cfg.Replication.MaxServerWaitTime == 0 {
		cfg.Replication.MaxServerWaitTime = time.Second
	}
	if cfg.Replication.ClientServerTimeoutDifference == 0 {
		cfg.Replication.ClientServerTimeoutDifference = time.Second
	}
	if cfg.Replication.PullDelayOnError == 0 {
		cfg.Replication.PullDelayOnError = time.Second
	}
	if cfg.Replication.MaxConsecutiveNoUpdatesBeforeUpstreamReset == 0 {
		cfg.Replication.MaxConsecutiveNoUpdatesBeforeUpstreamReset = 10
	}
	if cfg.Replication.SweepInterval == 0 {
		cfg.Replication.SweepInterval = time.Second
	}
	if cfg.Replication.ClientIdleTimeout == 0 {
		cfg.Replication.ClientIdleTimeout = time.Minute
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9102
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ReplicatorPort < 0 || c.Server.ReplicatorPort > 65535 {
		return fmt.Errorf("server.replicator_port must be between 0 and 65535")
	}
	if c.Replication.Mode != 1 && c.Replication.Mode != 2 {
		return fmt.Errorf("replication.mode must be 1 or 2")
	}
	if c.Replication.TimeoutDegraded > c.Replication.Timeout {
		return fmt.Errorf("replication.timeout_degraded must not exceed replication.timeout")
	}
	if c.Replication.ClientServerTimeoutDifference <= 0 {
		return fmt.Errorf("replication.client_server_timeout_difference must be positive")
	}
	for _, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("databases entries require a name")
		}
		role := db.Role
		if role != "LEADER" && role != "FOLLOWER" && role != "OBSERVER" {
			return fmt.Errorf("database %s: role must be LEADER, FOLLOWER or OBSERVER", db.Name)
		}
		if role != "LEADER" && db.UpstreamAddr == "" {
			return fmt.Errorf("database %s: non-leader roles require upstream_addr", db.Name)
		}
	}
	return nil
}
