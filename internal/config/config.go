package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string
	DBPath   string
	RedisURL string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	GroqAPIKey      string
	CohereAPIKey    string

	OTLPEndpoint     string
	AWSRegion        string
	SNSTopicARN      string
	SecretsPrefix    string
	AdminTokenBcrypt string

	MaxConcurrent      int
	CacheTTL           time.Duration
	EmbeddingsEnabled  bool
	QueueFlushInterval time.Duration
	DegradedThreshold  int
	ShutdownTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DBPath:   getEnv("DB_PATH", "frugalroute.db"),
		RedisURL: getEnv("REDIS_URL", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		CohereAPIKey:    getEnv("COHERE_API_KEY", ""),

		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:        getEnv("AWS_REGION", ""),
		SNSTopicARN:      getEnv("SNS_TOPIC_ARN", ""),
		SecretsPrefix:    getEnv("SECRETS_PREFIX", ""),
		AdminTokenBcrypt: getEnv("ADMIN_TOKEN_BCRYPT", ""),

		MaxConcurrent:      getIntEnv("MAX_CONCURRENT", 100),
		CacheTTL:           getDurationEnv("CACHE_TTL", time.Hour),
		EmbeddingsEnabled:  getEnv("EMBEDDINGS_ENABLED", "false") == "true",
		QueueFlushInterval: getDurationEnv("QUEUE_FLUSH_INTERVAL", 500*time.Millisecond),
		DegradedThreshold:  getIntEnv("QUEUE_DEGRADED_THRESHOLD", 1000),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

// HasAnyProviderKey reports whether at least one upstream is configured.
// Without any key the gateway runs in mock mode.
func (c *Config) HasAnyProviderKey() bool {
	return c.OpenAIAPIKey != "" || c.AnthropicAPIKey != "" || c.GeminiAPIKey != "" ||
		c.GroqAPIKey != "" || c.CohereAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
