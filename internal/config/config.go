package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Invoice delivery core configuration, with environment overrides
// =============================================================================

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Invoices    InvoicesConfig    `yaml:"invoices"`
	Poller      PollerConfig      `yaml:"poller"`
	Session     SessionConfig     `yaml:"session"`
	GameSink    GameSinkConfig    `yaml:"game_sink"`
	Audit       AuditConfig       `yaml:"audit"`
	Events      EventsConfig      `yaml:"events"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	Interface       string `yaml:"interface"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	DebugInterface  string `yaml:"debug_interface"`
}

// ObjectStoreConfig configures the S3-compatible gateway (C1).
type ObjectStoreConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UsePathStyle  bool   `yaml:"use_path_style"`
	Prefix        string `yaml:"prefix"`
}

// InvoicesConfig configures the on-disk invoice store (C2).
type InvoicesConfig struct {
	Directory string `yaml:"directory"`
}

// PollerConfig configures the polling engine (C4).
type PollerConfig struct {
	IntervalMs int `yaml:"interval_ms"`

	// MaxRetries is an integer or "unlimited". The polling engine does not
	// read it and never expires an Expected-Invoice registration, whatever
	// the value. It governs startup only: if the object store is
	// unreachable at init, a finite MaxRetries is fatal; with "unlimited"
	// the process keeps running without the polling engine.
	MaxRetries string `yaml:"max_retries"`
}

// MaxRetriesFinite reports whether MaxRetries names a bounded retry count
// rather than "unlimited".
func (p PollerConfig) MaxRetriesFinite() bool {
	return p.MaxRetries != "" && !strings.EqualFold(p.MaxRetries, "unlimited")
}

// SessionConfig configures the player-facing session router (C5).
type SessionConfig struct {
	PingIntervalSec int      `yaml:"ping_interval_sec"`
	PongWaitSec     int      `yaml:"pong_wait_sec"`
	WriteWaitSec    int      `yaml:"write_wait_sec"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// GameSinkConfig configures the outbound HTTP sinks.
type GameSinkConfig struct {
	GameOverURL      string `yaml:"game_over_url"`
	ProcessOrderURL  string `yaml:"process_order_url"`
	TimeoutSec       int    `yaml:"timeout_sec"`
	WorkerCount      int    `yaml:"worker_count"`
	HMACSecret       string `yaml:"hmac_secret"`
}

// AuditConfig configures the optional Postgres audit log.
type AuditConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// EventsConfig configures lifecycle event fan-out.
type EventsConfig struct {
	PubSub PubSubConfig `yaml:"pubsub"`
}

// PubSubConfig for the optional Google Cloud Pub/Sub fan-out.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
	Enabled   bool   `yaml:"enabled"`
}

// =============================================================================
// Singleton pattern with environment overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loaded once per process.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides, then defaults.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("INVOICECORE_ENV", c.Server.Env)
	c.Server.Interface = getEnv("INVOICECORE_INTERFACE", c.Server.Interface)
	c.Server.DebugInterface = getEnv("INVOICECORE_DEBUG_INTERFACE", c.Server.DebugInterface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	// Object store
	c.ObjectStore.Endpoint = getEnv("AWS_ENDPOINT_URL", c.ObjectStore.Endpoint)
	c.ObjectStore.Region = getEnv("AWS_REGION", c.ObjectStore.Region)
	c.ObjectStore.Bucket = getEnv("OBJECT_STORE_BUCKET", c.ObjectStore.Bucket)
	c.ObjectStore.AccessKey = getEnv("AWS_ACCESS_KEY_ID", c.ObjectStore.AccessKey)
	c.ObjectStore.SecretKey = getEnv("AWS_SECRET_ACCESS_KEY", c.ObjectStore.SecretKey)
	c.ObjectStore.Prefix = getEnv("OBJECT_STORE_PREFIX", c.ObjectStore.Prefix)
	c.ObjectStore.UsePathStyle = getEnvBool("OBJECT_STORE_PATH_STYLE", c.ObjectStore.UsePathStyle)

	// Invoice store
	c.Invoices.Directory = getEnv("INVOICE_DIR", c.Invoices.Directory)

	// Poller
	if v := getEnvInt("POLLER_INTERVAL_MS", 0); v > 0 {
		c.Poller.IntervalMs = v
	}
	c.Poller.MaxRetries = getEnv("MAX_RETRIES", c.Poller.MaxRetries)

	// Session
	if v := getEnvInt("SESSION_PING_INTERVAL_SEC", 0); v > 0 {
		c.Session.PingIntervalSec = v
	}
	if v := getEnvInt("SESSION_PONG_WAIT_SEC", 0); v > 0 {
		c.Session.PongWaitSec = v
	}
	if v := getEnvInt("SESSION_WRITE_WAIT_SEC", 0); v > 0 {
		c.Session.WriteWaitSec = v
	}
	if origins := getEnv("SESSION_ALLOWED_ORIGINS", ""); origins != "" {
		c.Session.AllowedOrigins = splitCSV(origins)
	}

	// Game sink
	c.GameSink.GameOverURL = getEnv("GAME_OVER_URL", c.GameSink.GameOverURL)
	c.GameSink.ProcessOrderURL = getEnv("PROCESS_ORDER_URL", c.GameSink.ProcessOrderURL)
	if v := getEnvInt("GAME_SINK_TIMEOUT_SEC", 0); v > 0 {
		c.GameSink.TimeoutSec = v
	}
	if v := getEnvInt("GAME_SINK_WORKERS", 0); v > 0 {
		c.GameSink.WorkerCount = v
	}
	c.GameSink.HMACSecret = getEnv("GAME_SINK_HMAC_SECRET", c.GameSink.HMACSecret)

	// Audit
	c.Audit.DatabaseURL = getEnv("DATABASE_URL", c.Audit.DatabaseURL)

	// Events / Pub/Sub
	c.Events.PubSub.ProjectID = getEnv("GCP_PROJECT_ID", c.Events.PubSub.ProjectID)
	c.Events.PubSub.TopicID = getEnv("PUBSUB_TOPIC_ID", c.Events.PubSub.TopicID)
	c.Events.PubSub.Enabled = getEnvBool("PUBSUB_ENABLED", c.Events.PubSub.Enabled)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Server.DebugInterface == "" {
		c.Server.DebugInterface = "127.0.0.1:9090"
	}
	if c.ObjectStore.Region == "" {
		c.ObjectStore.Region = "us-east-1"
	}
	if c.Invoices.Directory == "" {
		c.Invoices.Directory = "./invoices"
	}
	if c.Poller.IntervalMs == 0 {
		c.Poller.IntervalMs = 10000
	}
	if c.Poller.MaxRetries == "" {
		c.Poller.MaxRetries = "unlimited"
	}
	if c.Session.PingIntervalSec == 0 {
		c.Session.PingIntervalSec = 30
	}
	if c.Session.PongWaitSec == 0 {
		c.Session.PongWaitSec = 60
	}
	if c.Session.WriteWaitSec == 0 {
		c.Session.WriteWaitSec = 10
	}
	if len(c.Session.AllowedOrigins) == 0 {
		c.Session.AllowedOrigins = []string{"*"}
	}
	if c.GameSink.TimeoutSec == 0 {
		c.GameSink.TimeoutSec = 10
	}
	if c.GameSink.WorkerCount == 0 {
		c.GameSink.WorkerCount = 4
	}
	if c.Events.PubSub.TopicID == "" {
		c.Events.PubSub.TopicID = "invoicecore-events"
	}
}

// =============================================================================
// Helper functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
