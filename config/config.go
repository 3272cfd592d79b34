// Package config manages claw.pizza agent configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the agent operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

const (
	// GenerationPrefix is the reserved naming prefix for cache generations.
	GenerationPrefix = "claw-pizza-"
	// DefaultGeneration is the build-time current cache generation tag.
	DefaultGeneration = "claw-pizza-v1"
	// APIPrefix is the reserved backend API path prefix.
	APIPrefix = "/api/"

	// DatabaseEnvVar overrides the configured queue database DSN.
	DatabaseEnvVar = "CLAW_AGENT_DATABASE_URL"
)

// OriginConfig points the agent at the application origin it fronts.
type OriginConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// CacheConfig controls the resource cache store and install-time manifest.
type CacheConfig struct {
	Path       string   `yaml:"path"`
	Generation string   `yaml:"generation"`
	Precache   []string `yaml:"precache"`
}

// RouterConfig lists destinations resolved remote-first.
type RouterConfig struct {
	BackendHosts []string `yaml:"backendHosts"`
	APIPrefix    string   `yaml:"apiPrefix"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour
// for the offline queue store.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

// ReplayConfig tunes the offline queue replay engine.
type ReplayConfig struct {
	MaxAttempts        int     `yaml:"maxAttempts"`
	DeliveriesPerSec   float64 `yaml:"deliveriesPerSec"`
	DeliveryBurst      int     `yaml:"deliveryBurst"`
	DeadLetterCapacity int     `yaml:"deadLetterCapacity"`
}

// PushConfig configures the websocket push channel subscription.
type PushConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	MaxReconnectInterval time.Duration `yaml:"maxReconnectInterval"`
}

// ServerConfig configures the intercepting proxy listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// Settings is the unified agent configuration sourced from YAML.
type Settings struct {
	Environment Environment     `yaml:"environment"`
	Origin      OriginConfig    `yaml:"origin"`
	Cache       CacheConfig     `yaml:"cache"`
	Router      RouterConfig    `yaml:"router"`
	Database    DatabaseConfig  `yaml:"database"`
	Replay      ReplayConfig    `yaml:"replay"`
	Push        PushConfig      `yaml:"push"`
	Server      ServerConfig    `yaml:"server"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Default returns the agent configuration used when no file is present.
func Default() Settings {
	cfg := Settings{
		Environment: EnvProd,
		Origin: OriginConfig{
			BaseURL:     "https://claw.pizza",
			HTTPTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Path:       "./data/cache",
			Generation: DefaultGeneration,
			Precache: []string{
				"/",
				"/index.html",
				"/manifest.json",
				"https://cdn.socket.io/4.7.5/socket.io.min.js",
				"https://cdn.jsdelivr.net/npm/canvas-confetti@1.9.3/dist/confetti.browser.min.js",
			},
		},
		Router: RouterConfig{
			BackendHosts: []string{"api.claw.pizza", "ws.claw.pizza"},
			APIPrefix:    APIPrefix,
		},
		Database: DatabaseConfig{
			DSN:           "postgresql://localhost:5432/claw_pizza_agent",
			RunMigrations: true,
		},
		Replay: ReplayConfig{
			MaxAttempts:        10,
			DeliveriesPerSec:   20,
			DeliveryBurst:      5,
			DeadLetterCapacity: 256,
		},
		Push: PushConfig{
			Enabled:              true,
			URL:                  "wss://ws.claw.pizza/push",
			MaxReconnectInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:              ":8970",
			ReadHeaderTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "",
			ServiceName:   "claw-pizza-agent",
			OTLPInsecure:  false,
			EnableMetrics: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates Settings from the provided YAML file.
func Load(ctx context.Context, configPath string) (Settings, error) {
	_ = ctx

	file, err := os.Open(configPath)
	if err != nil {
		return Settings{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()

	raw, err := io.ReadAll(file)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads Settings from configPath, falling back to defaults when
// the file does not exist. The boolean reports whether a file was loaded.
func LoadOrDefault(ctx context.Context, configPath string) (Settings, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), false, nil
		}
		return Settings{}, false, err
	}
	return cfg, true, nil
}

func (c *Settings) applyDefaults() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = EnvProd
	}

	c.Origin.BaseURL = strings.TrimRight(strings.TrimSpace(c.Origin.BaseURL), "/")
	if c.Origin.HTTPTimeout <= 0 {
		c.Origin.HTTPTimeout = 10 * time.Second
	}

	c.Cache.Path = strings.TrimSpace(c.Cache.Path)
	if c.Cache.Path == "" {
		c.Cache.Path = "./data/cache"
	}
	c.Cache.Generation = strings.TrimSpace(c.Cache.Generation)
	if c.Cache.Generation == "" {
		c.Cache.Generation = DefaultGeneration
	}

	c.Router.APIPrefix = strings.TrimSpace(c.Router.APIPrefix)
	if c.Router.APIPrefix == "" {
		c.Router.APIPrefix = APIPrefix
	}
	hosts := make([]string, 0, len(c.Router.BackendHosts))
	for _, host := range c.Router.BackendHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	c.Router.BackendHosts = hosts

	if env := strings.TrimSpace(os.Getenv(DatabaseEnvVar)); env != "" {
		c.Database.DSN = env
	}
	c.Database.applyDefaults()

	if c.Replay.MaxAttempts <= 0 {
		c.Replay.MaxAttempts = 10
	}
	if c.Replay.DeliveriesPerSec <= 0 {
		c.Replay.DeliveriesPerSec = 20
	}
	if c.Replay.DeliveryBurst <= 0 {
		c.Replay.DeliveryBurst = 5
	}
	if c.Replay.DeadLetterCapacity <= 0 {
		c.Replay.DeadLetterCapacity = 256
	}

	c.Push.URL = strings.TrimSpace(c.Push.URL)
	if c.Push.MaxReconnectInterval <= 0 {
		c.Push.MaxReconnectInterval = 30 * time.Second
	}

	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = ":8970"
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "claw-pizza-agent"
	}
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/claw_pizza_agent"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

// Validate reports configuration the agent cannot start with.
func (c Settings) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod: %q", c.Environment)
	}

	if c.Origin.BaseURL == "" {
		return fmt.Errorf("origin.baseURL required")
	}
	parsed, err := url.Parse(c.Origin.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("origin.baseURL must be an absolute URL: %q", c.Origin.BaseURL)
	}

	if !strings.HasPrefix(c.Cache.Generation, GenerationPrefix) {
		return fmt.Errorf("cache.generation must carry the %q prefix: %q", GenerationPrefix, c.Cache.Generation)
	}
	for _, raw := range c.Cache.Precache {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("cache.precache entries must not be empty")
		}
	}

	if !strings.HasPrefix(c.Router.APIPrefix, "/") {
		return fmt.Errorf("router.apiPrefix must start with /: %q", c.Router.APIPrefix)
	}

	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Push.Enabled {
		pushURL, err := url.Parse(c.Push.URL)
		if err != nil || (pushURL.Scheme != "ws" && pushURL.Scheme != "wss") {
			return fmt.Errorf("push.url must be a ws:// or wss:// URL: %q", c.Push.URL)
		}
	}

	return nil
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	return nil
}
