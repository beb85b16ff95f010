// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	LogLevel       string
	CatalogPath    string // empty = embedded default catalog
	HealthInterval time.Duration

	LLM   LLMConfig
	Match MatchConfig
	Lock  LockConfig

	ConversationLog ConversationLogConfig
}

// LLMConfig selects and configures the language model gateway.
type LLMConfig struct {
	Provider string // grpc, openai, gemini or none
	Addr     string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// MatchConfig tunes the persona matcher and conversation length.
type MatchConfig struct {
	MinPredicates int
	MinWeight     int
	MaxExchanges  int
}

// LockConfig selects the per-session lock backend.
type LockConfig struct {
	Backend   string // local or redis
	RedisAddr string
	TTL       time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/videa.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		CatalogPath:    getEnv("CATALOG_PATH", ""),
		HealthInterval: getEnvDuration("HEALTH_INTERVAL", 30*time.Second),
		LLM: LLMConfig{
			Provider: strings.ToLower(getEnv("LLM_PROVIDER", "none")),
			Addr:     getEnv("LLM_ADDR", "localhost:50051"),
			BaseURL:  getEnv("LLM_BASE_URL", ""),
			APIKey:   getEnv("LLM_API_KEY", ""),
			Model:    getEnv("LLM_MODEL", ""),
			Timeout:  getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Match: MatchConfig{
			MinPredicates: getEnvInt("MATCH_MIN_PREDICATES", 3),
			MinWeight:     getEnvInt("MATCH_MIN_WEIGHT", 50),
			MaxExchanges:  getEnvInt("MAX_EXCHANGES", 10),
		},
		Lock: LockConfig{
			Backend:   strings.ToLower(getEnv("LOCK_BACKEND", "local")),
			RedisAddr: getEnv("REDIS_ADDR", ""),
			TTL:       getEnvDuration("LOCK_TTL", 90*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("HEALTH_INTERVAL must be > 0")
	}

	switch c.LLM.Provider {
	case "none":
	case "grpc":
		if c.LLM.Addr == "" {
			return fmt.Errorf("LLM_ADDR is required for the grpc provider")
		}
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for the %s provider", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of grpc, openai, gemini, none (got %q)", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}

	if c.Match.MinPredicates < 0 || c.Match.MinWeight < 0 {
		return fmt.Errorf("MATCH_MIN_PREDICATES and MATCH_MIN_WEIGHT must be >= 0")
	}
	if c.Match.MaxExchanges < 0 {
		return fmt.Errorf("MAX_EXCHANGES must be >= 0")
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis lock backend")
		}
		// A turn makes up to two gateway calls while holding the lock.
		if c.Lock.TTL <= 2*c.LLM.Timeout {
			return fmt.Errorf("LOCK_TTL (%s) must exceed twice LLM_TIMEOUT (%s)", c.Lock.TTL, c.LLM.Timeout)
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be local or redis (got %q)", c.Lock.Backend)
	}

	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

// ParseLevel maps LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error (got %q)", s)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
