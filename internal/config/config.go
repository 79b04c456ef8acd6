package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	SkipAuth    bool
	Environment string
	AppId       string

	// Secrets for verifying inbound provider callbacks. The generic
	// secret is the fallback for providers without a dedicated one.
	InboundSecret       string
	GithubInboundSecret string
	StripeInboundSecret string
	SlackInboundSecret  string

	// RetrySweepSchedule is a standard cron expression; empty disables
	// the scheduled retry sweep of failed deliveries.
	RetrySweepSchedule string
	RetrySweepMaxAge   int // hours; older failed attempts are left alone
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "crm-hooks"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "crm-hooks"),

		InboundSecret:       getEnv("WEBHOOK_SECRET", "default_secret"),
		GithubInboundSecret: getEnv("GITHUB_WEBHOOK_SECRET", "default_secret"),
		StripeInboundSecret: getEnv("STRIPE_WEBHOOK_SECRET", "default_secret"),
		SlackInboundSecret:  getEnv("SLACK_WEBHOOK_SECRET", "default_secret"),

		RetrySweepSchedule: getEnv("RETRY_SWEEP_SCHEDULE", ""),
		RetrySweepMaxAge:   getEnvInt("RETRY_SWEEP_MAX_AGE_HOURS", 24),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
