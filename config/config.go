// Package config loads orchestration core configuration from a YAML file with
// environment-variable overrides. Precedence: environment variables > config
// file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config holds all configuration for the orchestration core daemon.
	Config struct {
		Server    ServerConfig    `yaml:"server"`
		Events    EventsConfig    `yaml:"events"`
		Scheduler SchedulerConfig `yaml:"scheduler"`
		HITL      HITLConfig      `yaml:"hitl"`
		Storage   StorageConfig   `yaml:"storage"`
		Engine    EngineConfig    `yaml:"engine"`
		Telemetry TelemetryConfig `yaml:"telemetry"`
	}

	// ServerConfig holds the HTTP listen address for httpapi.
	ServerConfig struct {
		Addr string `yaml:"addr"`
	}

	// EventsConfig holds Event Fabric tuning knobs.
	EventsConfig struct {
		WebsocketPath       string `yaml:"websocket_path"`
		SubscriberQueueSize int    `yaml:"subscriber_queue_size"` // high-water mark, default 1024
	}

	// SchedulerConfig holds worker pool and retry tuning.
	SchedulerConfig struct {
		WorkerPoolSize    int           `yaml:"worker_pool_size"` // default cores*2
		AttemptTimeout    time.Duration `yaml:"attempt_timeout"`  // default 5m
		CancelGrace       time.Duration `yaml:"cancel_grace"`     // default 30s
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		OrphanThreshold   time.Duration `yaml:"orphan_threshold"` // default 2m
		BaseBackoff       time.Duration `yaml:"base_backoff"`     // default 1s
		MaxRetries        int           `yaml:"max_retries"`      // default 3
	}

	// HITLConfig holds HITL Gate tuning.
	HITLConfig struct {
		DefaultApprovalTTL time.Duration `yaml:"default_approval_ttl"`
		SweepInterval      time.Duration `yaml:"sweep_interval"`
	}

	// StorageConfig holds backend connection strings.
	StorageConfig struct {
		MongoURI string `yaml:"mongo_uri"`
		MongoDB  string `yaml:"mongo_db"`
		RedisURI string `yaml:"redis_uri"`
	}

	// EngineConfig selects and configures the Workflow Engine backend.
	EngineConfig struct {
		Backend           string `yaml:"backend"` // "inmem" or "temporal"
		TemporalHostPort  string `yaml:"temporal_host_port"`
		TemporalNamespace string `yaml:"temporal_namespace"`
		TemporalTaskQueue string `yaml:"temporal_task_queue"`
	}

	// TelemetryConfig holds logging/tracing export settings.
	TelemetryConfig struct {
		LogLevel     string `yaml:"log_level"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	}
)

// defaults returns a Config populated with the documented defaults from
// spec.md (5m attempt timeout, 30s cancel grace, 2m orphan threshold, 1024
// subscriber high-water mark, cores*2 worker pool).
func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Events: EventsConfig{
			WebsocketPath:       "/events",
			SubscriberQueueSize: 1024,
		},
		Scheduler: SchedulerConfig{
			WorkerPoolSize:    0, // 0 means "cores * 2", resolved at startup
			AttemptTimeout:    5 * time.Minute,
			CancelGrace:       30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			OrphanThreshold:   2 * time.Minute,
			BaseBackoff:       time.Second,
			MaxRetries:        3,
		},
		HITL: HITLConfig{
			DefaultApprovalTTL: 24 * time.Hour,
			SweepInterval:      time.Minute,
		},
		Storage: StorageConfig{
			MongoURI: "mongodb://localhost:27017",
			MongoDB:  "bmad_core",
			RedisURI: "redis://localhost:6379/0",
		},
		Engine: EngineConfig{
			Backend:           "inmem",
			TemporalHostPort:  "localhost:7233",
			TemporalNamespace: "default",
			TemporalTaskQueue: "bmad-core",
		},
		Telemetry: TelemetryConfig{
			LogLevel: "info",
		},
	}
}

// Load reads a Config from a YAML file and layers environment variable
// overrides on top. Config file search order (first found wins):
//  1. explicit path argument (e.g. from a --config flag)
//  2. BMAD_CORE_CONFIG environment variable
//  3. ./bmad-core.yaml
//  4. ~/.config/bmad-core/config.yaml
//
// The config file is optional; a missing file falls back to defaults.
func Load(explicitPath string) (*Config, error) {
	cfg := defaults()

	if path := resolvePath(explicitPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("BMAD_CORE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("bmad-core.yaml"); err == nil {
		return "bmad-core.yaml"
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/bmad-core/config.yaml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BMAD_CORE_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BMAD_CORE_MONGO_URI"); v != "" {
		c.Storage.MongoURI = v
	}
	if v := os.Getenv("BMAD_CORE_REDIS_URI"); v != "" {
		c.Storage.RedisURI = v
	}
	if v := os.Getenv("BMAD_CORE_ENGINE_BACKEND"); v != "" {
		c.Engine.Backend = v
	}
	if v := os.Getenv("BMAD_CORE_TEMPORAL_HOST_PORT"); v != "" {
		c.Engine.TemporalHostPort = v
	}
	if v := os.Getenv("BMAD_CORE_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
	if v := os.Getenv("BMAD_CORE_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.WorkerPoolSize = n
		}
	}
}

func (c *Config) validate() error {
	switch c.Engine.Backend {
	case "inmem", "temporal":
	default:
		return fmt.Errorf("config: unknown engine.backend %q (want inmem or temporal)", c.Engine.Backend)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("config: scheduler.max_retries must be >= 0")
	}
	if c.Events.SubscriberQueueSize <= 0 {
		return fmt.Errorf("config: events.subscriber_queue_size must be > 0")
	}
	return nil
}
