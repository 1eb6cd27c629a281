package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the healing engine.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Source  SourceConfig  `yaml:"source"`
	Actions ActionsConfig `yaml:"actions"`
	Archive ArchiveConfig `yaml:"archive"`
	Loop    LoopConfig    `yaml:"loop"`
	Rules   RulesConfig   `yaml:"rules"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SourceConfig configures access to the external metrics endpoint.
type SourceConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	MetricsPath string        `yaml:"metricsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ActionsConfig configures the remediation integration. An empty endpoint
// keeps the engine on the no-op capability.
type ActionsConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures the durable history archive.
type ArchiveConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoopConfig controls the healing cycle cadence and execution limits.
type LoopConfig struct {
	PollInterval         time.Duration `yaml:"pollInterval"`
	MonitorTimeout       time.Duration `yaml:"monitorTimeout"`
	AnomalyCooldown      time.Duration `yaml:"anomalyCooldown"`
	CycleCooldown        time.Duration `yaml:"cycleCooldown"`
	ActionTimeout        time.Duration `yaml:"actionTimeout"`
	MaxIdempotentRetries int           `yaml:"maxIdempotentRetries"`
	DecayAlpha           float64       `yaml:"decayAlpha"`
	BufferSize           int           `yaml:"bufferSize"`
}

// RulesConfig controls rule-pack loading for the detector, classifier and
// planner.
type RulesConfig struct {
	SeverityPath string `yaml:"severityPath"`
	BaselinePath string `yaml:"baselinePath"`
	PolicyPath   string `yaml:"policyPath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed snapshotting of strategy weights.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	SnapshotTTL  time.Duration `yaml:"snapshotTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HEAL_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the loop cannot run with. A broken configuration
// is fatal at startup rather than a surprise mid-cycle.
func (c *Config) Validate() error {
	if c.Loop.PollInterval <= 0 {
		return fmt.Errorf("loop.pollInterval must be positive, got %s", c.Loop.PollInterval)
	}
	if c.Loop.CycleCooldown < 0 {
		return fmt.Errorf("loop.cycleCooldown must not be negative, got %s", c.Loop.CycleCooldown)
	}
	if c.Loop.ActionTimeout <= 0 {
		return fmt.Errorf("loop.actionTimeout must be positive, got %s", c.Loop.ActionTimeout)
	}
	if c.Loop.DecayAlpha <= 0 || c.Loop.DecayAlpha > 1 {
		return fmt.Errorf("loop.decayAlpha must be in (0, 1], got %g", c.Loop.DecayAlpha)
	}
	if c.Loop.MaxIdempotentRetries < 0 {
		return fmt.Errorf("loop.maxIdempotentRetries must not be negative, got %d", c.Loop.MaxIdempotentRetries)
	}
	if c.Loop.BufferSize <= 0 {
		return fmt.Errorf("loop.bufferSize must be positive, got %d", c.Loop.BufferSize)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Source: SourceConfig{
			MetricsPath: "/api/v1/metrics",
			Timeout:     5 * time.Second,
		},
		Actions: ActionsConfig{Timeout: 30 * time.Second},
		Archive: ArchiveConfig{Timeout: 5 * time.Second},
		Loop: LoopConfig{
			PollInterval:         15 * time.Second,
			MonitorTimeout:       5 * time.Second,
			AnomalyCooldown:      5 * time.Minute,
			CycleCooldown:        30 * time.Second,
			ActionTimeout:        30 * time.Second,
			MaxIdempotentRetries: 2,
			DecayAlpha:           0.3,
			BufferSize:           256,
		},
		Rules: RulesConfig{
			SeverityPath: "configs/rules/severity.yaml",
			BaselinePath: "configs/rules/baselines.yaml",
			PolicyPath:   "configs/rules/policies.yaml",
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			SnapshotTTL:  24 * time.Hour,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEAL_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("HEAL_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("HEAL_ENGINE_SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("HEAL_ENGINE_SOURCE_METRICS_PATH"); v != "" {
		cfg.Source.MetricsPath = v
	}
	if v := os.Getenv("HEAL_ENGINE_ACTIONS_ENDPOINT"); v != "" {
		cfg.Actions.Endpoint = v
	}
	if v := os.Getenv("HEAL_ENGINE_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("HEAL_ENGINE_ARCHIVE_API_KEY"); v != "" {
		cfg.Archive.APIKey = v
	}
	if v := os.Getenv("HEAL_ENGINE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.PollInterval = d
		}
	}
	if v := os.Getenv("HEAL_ENGINE_CYCLE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.CycleCooldown = d
		}
	}
	if v := os.Getenv("HEAL_ENGINE_ANOMALY_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.AnomalyCooldown = d
		}
	}
	if v := os.Getenv("HEAL_ENGINE_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.ActionTimeout = d
		}
	}
	if v := os.Getenv("HEAL_ENGINE_DECAY_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Loop.DecayAlpha = f
		}
	}
	if v := os.Getenv("HEAL_ENGINE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.BufferSize = n
		}
	}
	if v := os.Getenv("HEAL_ENGINE_SEVERITY_RULES_PATH"); v != "" {
		cfg.Rules.SeverityPath = v
	}
	if v := os.Getenv("HEAL_ENGINE_BASELINE_RULES_PATH"); v != "" {
		cfg.Rules.BaselinePath = v
	}
	if v := os.Getenv("HEAL_ENGINE_POLICY_RULES_PATH"); v != "" {
		cfg.Rules.PolicyPath = v
	}
	if v := os.Getenv("HEAL_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HEAL_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("HEAL_ENGINE_CACHE_SNAPSHOT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SnapshotTTL = d
		}
	}
}
