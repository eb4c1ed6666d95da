// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Generator providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	AllowedOrigins []string
	Cache          CacheConfig
	LLM            LLMConfig
	RateLimit      RateLimitConfig
	Auth           AuthConfig
	// SummaryCacheSize bounds the per-user face sheet summary cache.
	SummaryCacheSize int
}

// CacheConfig selects and tunes the session cache.
type CacheConfig struct {
	Backend       string
	MaxSessions   int
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LLMConfig selects the generative text provider.
type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Timeout       time.Duration
	// HistoryLimit caps the prior messages sent with each prompt.
	HistoryLimit int
}

// RateLimitConfig controls per-user throttling of coaching turns.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	// DevMode accepts "dev-<user>" tokens and anonymous cookie identities.
	DevMode bool
	// Tokens maps static bearer tokens to user ids ("token=user,...").
	Tokens map[string]string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	tokens, err := parseTokens(getEnv("AUTH_TOKENS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/coach.db"),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		Cache: CacheConfig{
			Backend:       strings.ToLower(getEnv("CACHE_BACKEND", CacheMemory)),
			MaxSessions:   getEnvInt("CACHE_MAX_SESSIONS", 1000),
			TTL:           getEnvDuration("CACHE_TTL", 24*time.Hour),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		LLM: LLMConfig{
			Provider:      strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
			Model:         getEnv("LLM_MODEL", ""),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			Timeout:       getEnvDuration("LLM_TIMEOUT", 90*time.Second),
			HistoryLimit:  getEnvInt("PROMPT_HISTORY_LIMIT", 40),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Auth: AuthConfig{
			DevMode: getEnvBool("AUTH_DEV_MODE", false),
			Tokens:  tokens,
		},
		SummaryCacheSize: getEnvInt("SUMMARY_CACHE_SIZE", 1000),
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

	switch c.Cache.Backend {
	case CacheMemory:
		if c.Cache.MaxSessions <= 0 {
			return fmt.Errorf("CACHE_MAX_SESSIONS must be > 0")
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty when CACHE_BACKEND=redis")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("CACHE_TTL must be > 0")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheMemory, CacheRedis, c.Cache.Backend)
	}

	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY cannot be empty when LLM_PROVIDER=gemini")
		}
	case ProviderOpenAI:
		if c.LLM.Model == "" {
			return fmt.Errorf("LLM_MODEL cannot be empty when LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.HistoryLimit <= 0 {
		return fmt.Errorf("PROMPT_HISTORY_LIMIT must be > 0")
	}

	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SummaryCacheSize <= 0 {
		return fmt.Errorf("SUMMARY_CACHE_SIZE must be > 0")
	}
	if !c.Auth.DevMode && len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("AUTH_TOKENS cannot be empty unless AUTH_DEV_MODE is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Auth.DevMode ||
		c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90").
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTokens(value string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range splitList(value) {
		token, user, ok := strings.Cut(pair, "=")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("AUTH_TOKENS entry %q must be token=user", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}
