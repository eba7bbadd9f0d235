package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Auth types supported per connection.
const (
	AuthTypeOAuth   = "oauth"
	AuthTypeWebhook = "webhook"
)

// DefaultConnection is the connection used when callers do not name one.
const DefaultConnection = "main"

// Connection describes one configured Bitrix24 portal.
type Connection struct {
	Type         string `yaml:"type"`
	Domain       string `yaml:"domain"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	WebhookURL   string `yaml:"webhook_url"`
}

// IsWebhook reports whether the connection authenticates via a static
// incoming webhook URL instead of OAuth.
func (c Connection) IsWebhook() bool {
	return c.Type == AuthTypeWebhook && c.WebhookURL != ""
}

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	ServiceName       string
	ServiceVersion    string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DefaultConnection string
	Connections       map[string]Connection
	CachePrefix       string
	CacheTTL          time.Duration
	APITimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	WebhookSecret     string
	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
// Additional named connections can be supplied via a YAML file pointed to by
// BITRIX24_CONNECTIONS_FILE; the "main" connection always comes from the
// discrete BITRIX24_* variables.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		ServiceName:       getEnv("SERVICE_NAME", "bitrix24-bridge"),
		ServiceVersion:    getEnv("SERVICE_VERSION", "dev"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		DefaultConnection: getEnv("BITRIX24_DEFAULT_CONNECTION", DefaultConnection),
		CachePrefix:       getEnv("BITRIX24_CACHE_PREFIX", "bitrix24_tokens"),
		CacheTTL:          getDuration("BITRIX24_CACHE_TTL", time.Hour),
		APITimeout:        getDuration("BITRIX24_API_TIMEOUT", 30*time.Second),
		RetryAttempts:     getInt("BITRIX24_API_RETRY_ATTEMPTS", 3),
		RetryDelay:        getDuration("BITRIX24_API_RETRY_DELAY", time.Second),
		WebhookSecret:     os.Getenv("BITRIX24_WEBHOOK_SECRET"),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	connections, err := loadConnections()
	if err != nil {
		return Config{}, err
	}
	cfg.Connections = connections

	if _, ok := cfg.Connections[cfg.DefaultConnection]; !ok {
		return Config{}, fmt.Errorf("default connection %q is not configured", cfg.DefaultConnection)
	}

	return cfg, nil
}

// Connection returns the named connection config.
func (c Config) Connection(name string) (Connection, bool) {
	if name == "" {
		name = c.DefaultConnection
	}
	conn, ok := c.Connections[name]
	return conn, ok
}

func loadConnections() (map[string]Connection, error) {
	connections := make(map[string]Connection)

	if file := strings.TrimSpace(os.Getenv("BITRIX24_CONNECTIONS_FILE")); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read connections file: %w", err)
		}
		var parsed struct {
			Connections map[string]Connection `yaml:"connections"`
		}
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("parse connections file: %w", err)
		}
		for name, conn := range parsed.Connections {
			if conn.Type == "" {
				conn.Type = AuthTypeOAuth
			}
			connections[name] = conn
		}
	}

	main := Connection{
		Type:         getEnv("BITRIX24_AUTH_TYPE", AuthTypeOAuth),
		Domain:       os.Getenv("BITRIX24_DOMAIN"),
		ClientID:     os.Getenv("BITRIX24_CLIENT_ID"),
		ClientSecret: os.Getenv("BITRIX24_CLIENT_SECRET"),
		RedirectURI:  os.Getenv("BITRIX24_REDIRECT_URI"),
		WebhookURL:   os.Getenv("BITRIX24_WEBHOOK_URL"),
	}
	if main.Domain != "" || main.WebhookURL != "" {
		connections[DefaultConnection] = main
	}

	if len(connections) == 0 {
		return nil, fmt.Errorf("no bitrix24 connections configured")
	}

	return connections, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		// Bare integers are treated as seconds for parity with the
		// original package's config.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
