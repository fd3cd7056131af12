package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Secrets
	AdminJWTSecret  string
	SchedulerSecret string

	CORSAllowedOrigins []string
	PublicRateLimit    float64
	PublicRateBurst    int

	// Availability engine
	AvailabilitySourceTimeout time.Duration
	AvailabilityFailurePolicy string
	AvailabilityWorkers       int

	// Hook dispatcher
	HookWorkers         int
	HookQueueSize       int
	HookTimeout         time.Duration
	HookDispatchCeiling time.Duration

	// Gateway and scheduler
	GatewayTimeout        time.Duration
	OAuthStateTTL         time.Duration
	SchedulerTickInterval time.Duration
	SchedulerWorkers      int
	LogRetention          time.Duration
	AppHealthTimeout      time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	SESFromEmail        string
	SESFromName         string
	BedrockModelID      string
	ArchiveBucket       string

	// Gemini responder defaults
	GeminiAPIKey  string
	GeminiModelID string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Twilio SMS Configuration
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Google Calendar OAuth client
	GoogleClientID     string
	GoogleClientSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
		SchedulerSecret: getEnv("SCHEDULER_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		PublicRateLimit:    getEnvAsFloat("PUBLIC_RATE_LIMIT", 5),
		PublicRateBurst:    getEnvAsInt("PUBLIC_RATE_BURST", 20),

		AvailabilitySourceTimeout: getEnvAsDuration("AVAILABILITY_SOURCE_TIMEOUT", 3*time.Second),
		AvailabilityFailurePolicy: strings.ToLower(strings.TrimSpace(getEnv("AVAILABILITY_FAILURE_POLICY", "exclude"))),
		AvailabilityWorkers:       getEnvAsInt("AVAILABILITY_WORKERS", 8),

		HookWorkers:         getEnvAsInt("HOOK_WORKERS", 4),
		HookQueueSize:       getEnvAsInt("HOOK_QUEUE_SIZE", 256),
		HookTimeout:         getEnvAsDuration("HOOK_TIMEOUT", 10*time.Second),
		HookDispatchCeiling: getEnvAsDuration("HOOK_DISPATCH_CEILING", 30*time.Second),

		GatewayTimeout:        getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		OAuthStateTTL:         getEnvAsDuration("OAUTH_STATE_TTL", 10*time.Minute),
		SchedulerTickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
		SchedulerWorkers:      getEnvAsInt("SCHEDULER_WORKERS", 8),
		LogRetention:          getEnvAsDuration("LOG_RETENTION", 30*24*time.Hour),
		AppHealthTimeout:      getEnvAsDuration("APP_HEALTH_TIMEOUT", 10*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESFromName:         getEnv("SES_FROM_NAME", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MedSpa Scheduling"),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
	}
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
