package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis (shared counter store)
	RedisURL string

	// Document store (MinIO)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Provider API Keys
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Provider defaults
	DefaultProvider        string
	DefaultChatModel       string
	DefaultCompletionModel string
	DefaultEmbeddingModel  string
	DefaultImageModel      string

	// Provider dispatch
	ProviderTimeoutSeconds int

	// Rate Limiting
	RateLimitEnabled bool

	// IP security
	IPAllowlist []string
	IPBlocklist []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "text"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379"),
		MinioEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:            getEnv("MINIO_BUCKET", "conversations"),
		MinioUseSSL:            getEnvBool("MINIO_USE_SSL", false),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:        getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		DefaultProvider:        getEnv("DEFAULT_PROVIDER", "openai"),
		DefaultChatModel:       getEnv("DEFAULT_CHAT_MODEL", "gpt-4o-mini"),
		DefaultCompletionModel: getEnv("DEFAULT_COMPLETION_MODEL", "gpt-3.5-turbo-instruct"),
		DefaultEmbeddingModel:  getEnv("DEFAULT_EMBEDDING_MODEL", "text-embedding-3-small"),
		DefaultImageModel:      getEnv("DEFAULT_IMAGE_MODEL", "dall-e-3"),
		ProviderTimeoutSeconds: getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60),
		RateLimitEnabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
		IPAllowlist:            getEnvList("IP_ALLOWLIST"),
		IPBlocklist:            getEnvList("IP_BLOCKLIST"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// At least one provider API key is required
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY, ANTHROPIC_API_KEY, or GEMINI_API_KEY)")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}
