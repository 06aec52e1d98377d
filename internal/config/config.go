package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

	Payee PayeeConfig

	CORSAllowedOrigins []string

	MatchingRulesFile string
	SweepInterval     time.Duration

	Journal   JournalConfig
	RateLimit RateLimitConfig
}

// PayeeConfig describes the receiving UPI account embedded in payment links.
type PayeeConfig struct {
	VPA      string
	Name     string
	Currency string
}

// JournalConfig controls the durable notification journal.
type JournalConfig struct {
	Enabled bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// RateLimitConfig controls SMS webhook throttling.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SMSRate       float64
	SMSBurst      int
}

// Module supplies cfg and the hot-reloaded matching rules built from it.
func Module(cfg Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
		fx.Provide(NewMatchingRulesHolder),
	)
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:            getenv("APP_SERVICE", "upimatch"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		HTTPPort:           getenv("PORT", "3000"),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		CORSAllowedOrigins: parseList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		MatchingRulesFile:  strings.TrimSpace(getenv("MATCHING_RULES_FILE", "")),
		SweepInterval:      getenvDuration("SWEEP_INTERVAL", time.Minute),
		Payee: PayeeConfig{
			VPA:      strings.TrimSpace(getenv("UPI_ID", "merchant@upi")),
			Name:     strings.TrimSpace(getenv("UPI_MERCHANT_NAME", "UPI Merchant")),
			Currency: strings.ToUpper(strings.TrimSpace(getenv("UPI_CURRENCY", "INR"))),
		},
		Journal: JournalConfig{
			Enabled:           getenvBool("JOURNAL_ENABLED", false),
			DBType:            strings.ToLower(getenv("DATABASE_TYPE", "sqlite")),
			DBHost:            getenv("DATABASE_HOST", "localhost"),
			DBPort:            getenv("DATABASE_PORT", "5432"),
			DBName:            getenv("DATABASE_NAME", "upimatch"),
			DBUser:            getenv("DATABASE_USER", "postgres"),
			DBPassword:        getenv("DATABASE_PASSWORD", ""),
			DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
			DBPath:            getenv("DATABASE_PATH", "upimatch.db"),
			DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
			DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
			DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
			DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			SMSRate:       getenvFloat("RATE_LIMIT_SMS_RATE", 1),
			SMSBurst:      getenvInt("RATE_LIMIT_SMS_BURST", 10),
		},
	}
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	port := strings.TrimSpace(c.HTTPPort)
	if port == "" {
		port = "3000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
