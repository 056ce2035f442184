package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// feedLimitCap is the largest page the feed may ever serve
const feedLimitCap = 200

// Config holds application configuration
type Config struct {
	Port              string
	LogLevel          string
	StoreDriver       string
	DBConn            string
	BoltPath          string
	JWTSecret         string
	CBRURL            string
	BaseCurrency      string
	ReconcileSchedule string
	SMTPHost          string
	SMTPPort          string
	SMTPUsername      string
	SMTPPassword      string
	SenderEmail       string
	AlertEmail        string
	FeedDefaultLimit  int
	FeedMaxLimit      int
}

// NewConfig loads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	defaultLimit, err := getEnvInt("FEED_DEFAULT_LIMIT", 50)
	if err != nil {
		return nil, err
	}
	maxLimit, err := getEnvInt("FEED_MAX_LIMIT", feedLimitCap)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		StoreDriver:       getEnv("STORE_DRIVER", "postgres"),
		DBConn:            getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=ledger sslmode=disable"),
		BoltPath:          getEnv("BOLT_PATH", "ledger.db"),
		JWTSecret:         getEnv("JWT_SECRET", "secret"),
		CBRURL:            getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		BaseCurrency:      getEnv("BASE_CURRENCY", "RUB"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "0 3 * * *"),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SenderEmail:       getEnv("SENDER_EMAIL", "ledger@localhost"),
		AlertEmail:        getEnv("ALERT_EMAIL", ""),
		FeedDefaultLimit:  defaultLimit,
		FeedMaxLimit:      maxLimit,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBConn == "" {
			return fmt.Errorf("DB_CONN is required")
		}
	case "bolt":
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or bolt, got %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.BaseCurrency == "" {
		return fmt.Errorf("BASE_CURRENCY is required")
	}
	if c.FeedMaxLimit < 1 || c.FeedMaxLimit > feedLimitCap {
		return fmt.Errorf("FEED_MAX_LIMIT must be between 1 and %d", feedLimitCap)
	}
	if c.FeedDefaultLimit < 1 || c.FeedDefaultLimit > c.FeedMaxLimit {
		return fmt.Errorf("FEED_DEFAULT_LIMIT must be between 1 and FEED_MAX_LIMIT")
	}
	return nil
}

// AlertsEnabled reports whether reconcile alerts can be mailed
func (c *Config) AlertsEnabled() bool {
	return c.SMTPHost != "" && c.AlertEmail != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
