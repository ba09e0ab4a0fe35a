package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port                 string
	Env                  string
	LogLevel             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	AuthJWTSecret        string
	PatientLinkSecret    string
	PatientLinkTTL       time.Duration
	PatientPortalBaseURL string

	// Session event fan-out: memory, redis or postgres.
	EventBus           string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	OutboxPollInterval time.Duration
	// OutboxInline runs outbox delivery inside the API process. Disable it
	// when cmd/summary-worker delivers to a shared bus instead.
	OutboxInline      bool
	WatchPollInterval time.Duration

	// Summarization provider
	AIProvider         string
	AIFallbackProvider string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	BedrockModelID     string
	GeminiAPIKey       string
	GeminiModel        string
	SummaryTimeout     time.Duration
	SummaryMaxTokens   int
	SummaryValidation  bool
	// Per-caller summary generation budget (requests per minute, burst).
	SummaryRatePerMinute float64
	SummaryRateBurst     int

	// AWS-backed summary infrastructure
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	SummaryJobsTable        string
	SummaryRetryQueueURL    string
	SummaryRetryMaxAttempts int
	SummaryArchiveBucket    string
	UseMemoryQueue          bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		CORSAllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS"),
		AuthJWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
		PatientLinkSecret:    getEnv("PATIENT_LINK_SECRET", ""),
		PatientLinkTTL:       getEnvAsDuration("PATIENT_LINK_TTL", 24*time.Hour),
		PatientPortalBaseURL: strings.TrimRight(getEnv("PATIENT_PORTAL_BASE_URL", "http://localhost:3000"), "/"),

		EventBus:           strings.ToLower(strings.TrimSpace(getEnv("EVENT_BUS", "memory"))),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxInline:       getEnvAsBool("OUTBOX_INLINE", true),
		WatchPollInterval:  getEnvAsDuration("WATCH_POLL_INTERVAL", 15*time.Second),

		AIProvider:         strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", "openai"))),
		AIFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("AI_FALLBACK_PROVIDER", ""))),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		SummaryTimeout:     getEnvAsDuration("SUMMARY_TIMEOUT", 90*time.Second),
		SummaryMaxTokens:   getEnvAsInt("SUMMARY_MAX_TOKENS", 1500),
		SummaryValidation:  getEnvAsBool("SUMMARY_VALIDATION", true),

		SummaryRatePerMinute: getEnvAsFloat("SUMMARY_RATE_PER_MINUTE", 6),
		SummaryRateBurst:     getEnvAsInt("SUMMARY_RATE_BURST", 3),

		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SummaryJobsTable:        getEnv("SUMMARY_JOBS_TABLE", ""),
		SummaryRetryQueueURL:    getEnv("SUMMARY_RETRY_QUEUE_URL", ""),
		SummaryRetryMaxAttempts: getEnvAsInt("SUMMARY_RETRY_MAX_ATTEMPTS", 5),
		SummaryArchiveBucket:    getEnv("SUMMARY_ARCHIVE_BUCKET", ""),
		UseMemoryQueue:          getEnvAsBool("USE_MEMORY_QUEUE", false),
	}
}

// UsesAWS reports whether any summary infrastructure needs an AWS SDK config.
func (c *Config) UsesAWS() bool {
	return c.AIProvider == "bedrock" || c.AIFallbackProvider == "bedrock" ||
		c.SummaryJobsTable != "" || c.SummaryArchiveBucket != "" ||
		(c.SummaryRetryQueueURL != "" && !c.UseMemoryQueue)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
