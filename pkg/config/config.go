package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Env      string
	HTTPPort string

	StorageBackend string
	DatabaseURL    string
	Tables         Tables

	SQSQueueURL          string
	ReceiptsBucket       string
	ReceiptsBaseURL      string
	WebSocketAPIEndpoint string

	LockBackend   string
	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration
	LockTimeout   time.Duration

	JWTSecret           string
	StripeWebhookSecret string
	CashNetworkSecret   string
	CORSAllowedOrigins  []string

	DefaultCurrency          string
	AllowOverdraft           bool
	OverdraftLimit           int64
	ConsistencyCheckInterval time.Duration
	UpstreamTimeout          time.Duration
	MaxReceiptBytes          int64

	AdvisoryWindowDays   int
	AdvisoryLowDays      float64
	AdvisoryCriticalDays float64

	SweepInterval   time.Duration
	SweepStuckAfter time.Duration
}

// Tables holds the DynamoDB table names.
type Tables struct {
	Accounts     string
	Transactions string
	References   string
	TopUps       string
	Audit        string
	Connections  string
}

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Load reads the .env file, if any, and then the environment.
func Load() (*Config, error) {
	LoadEnv()
	return FromEnv()
}

// FromEnv builds a Config from the current environment and validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:      GetEnv("ENV", "development"),
		HTTPPort: GetEnv("HTTP_PORT", "8080"),

		StorageBackend: GetEnv("STORAGE_BACKEND", BackendMemory),
		DatabaseURL:    GetEnv("DATABASE_URL", ""),
		Tables: Tables{
			Accounts:     GetEnv("DYNAMODB_ACCOUNTS_TABLE_NAME", ""),
			Transactions: GetEnv("DYNAMODB_TRANSACTIONS_TABLE_NAME", ""),
			References:   GetEnv("DYNAMODB_REFERENCES_TABLE_NAME", ""),
			TopUps:       GetEnv("DYNAMODB_TOPUPS_TABLE_NAME", ""),
			Audit:        GetEnv("DYNAMODB_AUDIT_TABLE_NAME", ""),
			Connections:  GetEnv("DYNAMODB_CONNECTIONS_TABLE_NAME", ""),
		},

		SQSQueueURL:          GetEnv("SQS_QUEUE_URL", ""),
		ReceiptsBucket:       GetEnv("RECEIPTS_BUCKET", ""),
		ReceiptsBaseURL:      GetEnv("RECEIPTS_BASE_URL", ""),
		WebSocketAPIEndpoint: GetEnv("WEBSOCKET_API_ENDPOINT", ""),

		LockBackend:   GetEnv("LOCK_BACKEND", LockLocal),
		RedisAddr:     GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		LockTTL:       GetDurationEnv("LOCK_TTL", 10*time.Second),
		LockTimeout:   GetDurationEnv("LOCK_TIMEOUT", 5*time.Second),

		JWTSecret:           GetEnv("JWT_SECRET", ""),
		StripeWebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		CashNetworkSecret:   GetEnv("CASH_NETWORK_SECRET", ""),
		CORSAllowedOrigins:  GetListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),

		DefaultCurrency:          strings.ToUpper(GetEnv("DEFAULT_CURRENCY", "USD")),
		AllowOverdraft:           GetBoolEnv("ALLOW_OVERDRAFT", false),
		OverdraftLimit:           int64(GetIntEnv("OVERDRAFT_LIMIT", 0)),
		ConsistencyCheckInterval: GetDurationEnv("CONSISTENCY_CHECK_INTERVAL", time.Hour),
		UpstreamTimeout:          GetDurationEnv("UPSTREAM_TIMEOUT", 5*time.Second),
		MaxReceiptBytes:          int64(GetIntEnv("MAX_RECEIPT_BYTES", 10<<20)),

		AdvisoryWindowDays:   GetIntEnv("ADVISORY_WINDOW_DAYS", 30),
		AdvisoryLowDays:      GetFloatEnv("ADVISORY_LOW_DAYS", 7),
		AdvisoryCriticalDays: GetFloatEnv("ADVISORY_CRITICAL_DAYS", 2),

		SweepInterval:   GetDurationEnv("SWEEP_INTERVAL", 5*time.Minute),
		SweepStuckAfter: GetDurationEnv("SWEEP_STUCK_AFTER", time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case BackendMemory:
	case BackendDynamoDB:
		t := c.Tables
		if t.Accounts == "" || t.Transactions == "" || t.References == "" || t.TopUps == "" || t.Audit == "" {
			errs = append(errs, errors.New("one or more DynamoDB table name environment variables are not set"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	if c.LockBackend != LockLocal && c.LockBackend != LockRedis {
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}
	if c.JWTSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	if c.OverdraftLimit < 0 {
		errs = append(errs, errors.New("OVERDRAFT_LIMIT must not be negative"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.AdvisoryWindowDays <= 0 {
		errs = append(errs, errors.New("ADVISORY_WINDOW_DAYS must be positive"))
	}
	if c.AdvisoryCriticalDays > c.AdvisoryLowDays {
		errs = append(errs, errors.New("ADVISORY_CRITICAL_DAYS must not exceed ADVISORY_LOW_DAYS"))
	}

	return errors.Join(errs...)
}

// IsProduction checks if the app runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetBoolEnv returns a bool environment variable or a default value.
func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetFloatEnv returns a float environment variable or a default value.
func GetFloatEnv(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// GetDurationEnv returns a duration environment variable ("30s", "5m") or a default value.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// GetListEnv splits a comma-separated environment variable, dropping blanks.
func GetListEnv(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
