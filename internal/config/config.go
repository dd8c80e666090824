package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ConfigFileEnv names the environment variable pointing at an optional TOML overlay.
const ConfigFileEnv = "DESKWATCH_CONFIG"

// Config holds all application configuration
type Config struct {
	// Realtime connection configuration
	Realtime RealtimeConfig `toml:"realtime"`

	// Event store bounds
	Store StoreConfig `toml:"store"`

	// REST collaborator configuration
	API APIConfig `toml:"api"`

	// Credential storage configuration
	Credential CredentialConfig `toml:"credential"`

	// Local status server configuration
	Status StatusConfig `toml:"status"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `toml:"rate_limit"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Application metadata
	App AppConfig `toml:"app"`
}

// RealtimeConfig holds the event connection settings
type RealtimeConfig struct {
	URL               string        `toml:"url"`
	Path              string        `toml:"path"`
	ReconnectBase     time.Duration `toml:"reconnect_base"`
	MaxReconnects     int           `toml:"max_reconnects"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `toml:"handshake_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	AuthCloseCode     int           `toml:"auth_close_code"`
	AuthErrorCodes    []int         `toml:"auth_error_codes"`
	MarkReadRPS       float64       `toml:"mark_read_rps"`
	MarkReadBurst     int           `toml:"mark_read_burst"`
}

// StoreConfig holds event store bounds
type StoreConfig struct {
	MaxNotifications int `toml:"max_notifications"`
	MaxTicketUpdates int `toml:"max_ticket_updates"`
}

// APIConfig holds REST snapshot client configuration
type APIConfig struct {
	BaseURL string        `toml:"base_url"`
	Timeout time.Duration `toml:"timeout"`
}

// CredentialConfig selects where the bearer token lives
type CredentialConfig struct {
	Backend     string `toml:"backend"` // keyring, file, env
	ServiceName string `toml:"service_name"`
	Account     string `toml:"account"`
	FileDir     string `toml:"file_dir"`
	Token       string `toml:"-"`
}

// StatusConfig holds the local status HTTP server configuration
type StatusConfig struct {
	Enabled         bool          `toml:"enabled"`
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	PingInterval    time.Duration `toml:"ping_interval"`
	PongWait        time.Duration `toml:"pong_wait"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	BurstSize         int     `toml:"burst_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Environment string `toml:"environment"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			URL:               "ws://localhost:8080",
			Path:              "/ws/connect",
			ReconnectBase:     3 * time.Second,
			MaxReconnects:     5,
			HeartbeatInterval: 30 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			WriteTimeout:      10 * time.Second,
			AuthCloseCode:     1008,
			AuthErrorCodes:    []int{401},
			MarkReadRPS:       5,
			MarkReadBurst:     10,
		},
		Store: StoreConfig{
			MaxNotifications: 100,
			MaxTicketUpdates: 20,
		},
		API: APIConfig{
			BaseURL: "http://localhost:8080/api/v1",
			Timeout: 15 * time.Second,
		},
		Credential: CredentialConfig{
			Backend:     "keyring",
			ServiceName: "deskwatch",
			Account:     "default",
		},
		Status: StatusConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:7420",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
			PingInterval:    54 * time.Second,
			PongWait:        60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			BurstSize:         40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Name:        "deskwatch",
			Version:     "dev",
			Environment: "development",
		},
	}
}

// Load loads configuration from defaults, an optional TOML file and the
// environment, in that order. An empty path falls back to DESKWATCH_CONFIG.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	r := &c.Realtime
	r.URL = getEnvOrDefault("REALTIME_URL", r.URL)
	r.Path = getEnvOrDefault("REALTIME_PATH", r.Path)
	r.ReconnectBase = getDurationOrDefault("REALTIME_RECONNECT_BASE", r.ReconnectBase)
	r.MaxReconnects = getIntOrDefault("REALTIME_MAX_RECONNECTS", r.MaxReconnects)
	r.HeartbeatInterval = getDurationOrDefault("REALTIME_HEARTBEAT_INTERVAL", r.HeartbeatInterval)
	r.HandshakeTimeout = getDurationOrDefault("REALTIME_HANDSHAKE_TIMEOUT", r.HandshakeTimeout)
	r.WriteTimeout = getDurationOrDefault("REALTIME_WRITE_TIMEOUT", r.WriteTimeout)
	r.AuthCloseCode = getIntOrDefault("REALTIME_AUTH_CLOSE_CODE", r.AuthCloseCode)
	r.AuthErrorCodes = getIntSliceOrDefault("REALTIME_AUTH_ERROR_CODES", r.AuthErrorCodes)
	r.MarkReadRPS = getFloatOrDefault("REALTIME_MARK_READ_RPS", r.MarkReadRPS)
	r.MarkReadBurst = getIntOrDefault("REALTIME_MARK_READ_BURST", r.MarkReadBurst)

	c.Store.MaxNotifications = getIntOrDefault("STORE_MAX_NOTIFICATIONS", c.Store.MaxNotifications)
	c.Store.MaxTicketUpdates = getIntOrDefault("STORE_MAX_TICKET_UPDATES", c.Store.MaxTicketUpdates)

	c.API.BaseURL = getEnvOrDefault("API_BASE_URL", c.API.BaseURL)
	c.API.Timeout = getDurationOrDefault("API_TIMEOUT", c.API.Timeout)

	c.Credential.Backend = getEnvOrDefault("CREDENTIAL_BACKEND", c.Credential.Backend)
	c.Credential.ServiceName = getEnvOrDefault("CREDENTIAL_SERVICE", c.Credential.ServiceName)
	c.Credential.Account = getEnvOrDefault("CREDENTIAL_ACCOUNT", c.Credential.Account)
	c.Credential.FileDir = getEnvOrDefault("CREDENTIAL_FILE_DIR", c.Credential.FileDir)
	c.Credential.Token = getEnvOrDefault("DESKWATCH_TOKEN", c.Credential.Token)

	s := &c.Status
	s.Enabled = getBoolOrDefault("STATUS_ENABLED", s.Enabled)
	s.Addr = getEnvOrDefault("STATUS_ADDR", s.Addr)
	s.ReadTimeout = getDurationOrDefault("STATUS_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getDurationOrDefault("STATUS_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getDurationOrDefault("STATUS_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getDurationOrDefault("STATUS_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AllowedOrigins = getStringSliceOrDefault("STATUS_ALLOWED_ORIGINS", s.AllowedOrigins)
	s.PingInterval = getDurationOrDefault("STATUS_PING_INTERVAL", s.PingInterval)
	s.PongWait = getDurationOrDefault("STATUS_PONG_WAIT", s.PongWait)

	c.RateLimit.Enabled = getBoolOrDefault("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerSecond = getFloatOrDefault("RATE_LIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.BurstSize = getIntOrDefault("RATE_LIMIT_BURST", c.RateLimit.BurstSize)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)

	c.App.Name = getEnvOrDefault("APP_NAME", c.App.Name)
	c.App.Version = getEnvOrDefault("APP_VERSION", c.App.Version)
	c.App.Environment = getEnvOrDefault("APP_ENV", c.App.Environment)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	// Required fields
	if c.Realtime.URL == "" {
		errs = append(errs, "REALTIME_URL is required")
	} else if u, err := url.Parse(c.Realtime.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "REALTIME_URL must be a ws:// or wss:// URL")
	}

	if !strings.HasPrefix(c.Realtime.Path, "/") {
		errs = append(errs, "REALTIME_PATH must start with /")
	}

	if c.API.BaseURL != "" {
		if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, "API_BASE_URL must be an http:// or https:// URL")
		}
	}

	// Logical validations
	if c.Realtime.ReconnectBase <= 0 {
		errs = append(errs, "REALTIME_RECONNECT_BASE must be positive")
	}
	if c.Realtime.MaxReconnects < 0 {
		errs = append(errs, "REALTIME_MAX_RECONNECTS cannot be negative")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		errs = append(errs, "REALTIME_HEARTBEAT_INTERVAL must be positive")
	}
	if c.Realtime.HandshakeTimeout < 0 {
		errs = append(errs, "REALTIME_HANDSHAKE_TIMEOUT cannot be negative")
	}
	if c.Realtime.MarkReadRPS <= 0 || c.Realtime.MarkReadBurst < 1 {
		errs = append(errs, "REALTIME_MARK_READ_RPS and REALTIME_MARK_READ_BURST must be positive")
	}
	if c.Store.MaxNotifications < 1 {
		errs = append(errs, "STORE_MAX_NOTIFICATIONS must be at least 1")
	}
	if c.Store.MaxTicketUpdates < 1 {
		errs = append(errs, "STORE_MAX_TICKET_UPDATES must be at least 1")
	}

	switch c.Credential.Backend {
	case "keyring", "file", "env":
	default:
		errs = append(errs, "CREDENTIAL_BACKEND must be one of keyring, file, env")
	}
	if c.Credential.Backend == "file" && c.Credential.FileDir == "" {
		errs = append(errs, "CREDENTIAL_FILE_DIR is required for the file backend")
	}

	// Security validations
	if c.Status.Enabled && !isLoopback(c.Status.Addr) && c.IsProduction() {
		errs = append(errs, "STATUS_ADDR must be a loopback address in production")
	}
	if c.IsProduction() && strings.HasPrefix(c.Realtime.URL, "ws://") {
		errs = append(errs, "REALTIME_URL must use wss:// in production")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// Endpoint returns the websocket URL without the credential.
func (c *Config) Endpoint() string {
	return strings.TrimRight(c.Realtime.URL, "/") + c.Realtime.Path
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func isLoopback(addr string) bool {
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		host = addr[:idx]
	}
	host = strings.Trim(host, "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getIntSliceOrDefault(key string, defaultValue []int) []int {
	parts := getStringSliceOrDefault(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		result = append(result, n)
	}
	return result
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	token := "none"
	if c.Credential.Token != "" {
		token = "[REDACTED]"
	}
	return fmt.Sprintf(
		"Config{Endpoint: %s, API: %s, Credential: %s, Token: %s, Status: %s, RateLimit: %v, Environment: %s}",
		c.Endpoint(),
		redactURL(c.API.BaseURL),
		c.Credential.Backend,
		token,
		c.Status.Addr,
		c.RateLimit.Enabled,
		c.App.Environment,
	)
}

// redactURL drops userinfo and query strings, which may carry credentials
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "[REDACTED]"
	}
	return u.String()
}
