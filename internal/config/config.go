// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	ClassifierTables string // optional YAML override for keyword tables
	Session          SessionConfig
	Knowledge        KnowledgeConfig
	Gateway          GatewayConfig
	RateLimit        RateLimitConfig
	Archive          ArchiveConfig
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxSessions   int
}

// KnowledgeConfig controls dataset loading and hot reload.
type KnowledgeConfig struct {
	DataDir      string
	Debounce     time.Duration
	PollSchedule string // cron spec used when file watching is unavailable
	Watch        bool
}

// GatewayConfig controls the generation gateway and its LLM backend.
type GatewayConfig struct {
	Provider         string // "openai", "gemini" or "none"
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	GeminiAPIKey     string
	GeminiModel      string
	Timeout          time.Duration
	MaxTokens        int
	Temperature      float64
	CacheTTL         time.Duration
	CacheMaxEntries  int
	RequestsPerMin   int
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RequireGrounding bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// RateLimitConfig controls per-client chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ArchiveConfig controls the SQLite session archive.
type ArchiveConfig struct {
	Enabled   bool
	Retention time.Duration
	Schedule  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/kaya.db"),
		ClassifierTables: getEnv("CLASSIFIER_TABLES", ""),
		Session: SessionConfig{
			IdleTimeout:   getEnvDuration("SESSION_IDLE_TIMEOUT", time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			MaxSessions:   getEnvInt("SESSION_MAX", 10000),
		},
		Knowledge: KnowledgeConfig{
			DataDir:      getEnv("AGENT_DATA_DIR", "./data/agents"),
			Debounce:     getEnvDuration("KNOWLEDGE_DEBOUNCE", 2*time.Second),
			PollSchedule: getEnv("KNOWLEDGE_POLL_SCHEDULE", "@every 15m"),
			Watch:        getEnvBool("KNOWLEDGE_WATCH", true),
		},
		Gateway: GatewayConfig{
			Provider:         strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout:          getEnvDuration("LLM_TIMEOUT", 8*time.Second),
			MaxTokens:        getEnvInt("LLM_MAX_TOKENS", 500),
			Temperature:      getEnvFloat("LLM_TEMPERATURE", 0.7),
			CacheTTL:         getEnvDuration("LLM_CACHE_TTL", 5*time.Minute),
			CacheMaxEntries:  getEnvInt("LLM_CACHE_MAX_ENTRIES", 1000),
			RequestsPerMin:   getEnvInt("LLM_REQUESTS_PER_MINUTE", 20),
			DailyBudgetUSD:   getEnvFloat("DAILY_BUDGET", 10),
			MonthlyBudgetUSD: getEnvFloat("MONTHLY_BUDGET", 300),
			BreakerThreshold: getEnvInt("LLM_BREAKER_THRESHOLD", 3),
			BreakerCooldown:  getEnvDuration("LLM_BREAKER_COOLDOWN", time.Minute),
			RequireGrounding: getEnvBool("LLM_REQUIRE_GROUNDING", true),
			RedisAddr:        getEnv("REDIS_ADDR", ""),
			RedisPassword:    getEnv("REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("CHAT_RATE_LIMIT", 30),
			WindowDuration:    getEnvDuration("CHAT_RATE_WINDOW", time.Minute),
		},
		Archive: ArchiveConfig{
			Enabled:   getEnvBool("ARCHIVE_ENABLED", true),
			Retention: getEnvDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
			Schedule:  getEnv("ARCHIVE_CLEANUP_SCHEDULE", "@daily"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Flat validation list reads better than a table here.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Archive.Enabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Knowledge.DataDir == "" {
		return fmt.Errorf("AGENT_DATA_DIR cannot be empty")
	}
	if c.Knowledge.PollSchedule == "" {
		return fmt.Errorf("KNOWLEDGE_POLL_SCHEDULE cannot be empty")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be > 0")
	}
	switch c.Gateway.Provider {
	case "openai":
		if c.Gateway.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY cannot be empty when LLM_PROVIDER=openai")
		}
	case "gemini":
		if c.Gateway.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY cannot be empty when LLM_PROVIDER=gemini")
		}
	case "none":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of openai, gemini, none (got %q)", c.Gateway.Provider)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.Gateway.CacheMaxEntries <= 0 {
		return fmt.Errorf("LLM_CACHE_MAX_ENTRIES must be > 0")
	}
	if c.Gateway.RequestsPerMin <= 0 {
		return fmt.Errorf("LLM_REQUESTS_PER_MINUTE must be > 0")
	}
	if c.Gateway.BreakerThreshold <= 0 {
		return fmt.Errorf("LLM_BREAKER_THRESHOLD must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// LLMEnabled reports whether a generation backend is configured.
func (c *Config) LLMEnabled() bool {
	return c.Gateway.Provider != "" && c.Gateway.Provider != "none"
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
