package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Server ServerConfig
	Logs   LogConfig
	DB     PostgresConfig
	OpenAI OpenAIConfig
	Stripe StripeConfig
	Redis  RedisConfig
	Sentry SentryConfig
	Auth   AuthConfig
	// QueueURL is the SQS queue analytics events are published to. Empty disables publishing.
	QueueURL string
}

type ServerConfig struct {
	Addr        string
	Environment string
	// AllowOrigins feeds the CORS middleware.
	AllowOrigins []string
}

type LogConfig struct {
	Style string
	Level string
}

type PostgresConfig struct {
	Username    string `validate:"required"`
	Password    string
	URL         string `validate:"required"`
	Port        string `validate:"required"`
	Name        string
	SSLMode     string
	AutoMigrate bool
}

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceIDPro    string
	FrontendURL   string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	AnonLimit     int
	AnonWindow    time.Duration
	LimiterPrefix string
}

type SentryConfig struct {
	DSN string
}

// AuthConfig names the Auth0 tenant whose tokens open a session.
type AuthConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	Leeway   time.Duration
}

// Configured reports whether enough is set to build a token verifier.
func (a AuthConfig) Configured() bool {
	return a.Issuer != "" && a.Audience != ""
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		QueueURL: os.Getenv("QUEUE_URL"),
		Server: ServerConfig{
			Addr:         loadEnv("SERVER_ADDR", "0.0.0.0:8080"),
			Environment:  loadEnv("ENV", "local"),
			AllowOrigins: splitList(loadEnv("CORS_ALLOW_ORIGINS", "*")),
		},
		Logs: LogConfig{
			Style: loadEnv("LOG_STYLE", "json"),
			Level: loadEnv("LOG_LEVEL", "info"),
		},
		DB: PostgresConfig{
			Username:    os.Getenv("POSTGRES_USER"),
			Password:    os.Getenv("POSTGRES_PWD"),
			URL:         os.Getenv("POSTGRES_URL"),
			Port:        loadEnv("POSTGRES_PORT", "5432"),
			Name:        loadEnv("POSTGRES_DB", "postgres"),
			SSLMode:     loadEnv("POSTGRES_SSLMODE", "require"),
			AutoMigrate: loadEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		OpenAI: OpenAIConfig{
			APIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL:   os.Getenv("OPENAI_BASE_URL"),
			Model:     loadEnv("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens: loadEnvAsInt("OPENAI_MAX_TOKENS", 1000),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PriceIDPro:    os.Getenv("STRIPE_PRICE_ID"),
			FrontendURL:   os.Getenv("FRONTEND_URL"),
		},
		Redis: RedisConfig{
			Addr:          os.Getenv("REDIS_ADDR"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            loadEnvAsInt("REDIS_DB", 0),
			AnonLimit:     loadEnvAsInt("ANON_RATE_LIMIT", 30),
			AnonWindow:    time.Duration(loadEnvAsInt("ANON_RATE_WINDOW_SECONDS", 3600)) * time.Second,
			LimiterPrefix: loadEnv("RATE_LIMIT_PREFIX", "whydatawhy:ratelimit"),
		},
		Sentry: SentryConfig{
			DSN: os.Getenv("SENTRY_DSN"),
		},
		Auth: AuthConfig{
			Issuer:   strings.TrimSpace(os.Getenv("AUTH0_ISSUER")),
			Audience: strings.TrimSpace(os.Getenv("AUTH0_AUDIENCE")),
			JWKSURL:  strings.TrimSpace(os.Getenv("AUTH0_JWKS_URL")),
			Leeway:   time.Duration(loadEnvAsInt("AUTH0_LEEWAY_SECONDS", 30)) * time.Second,
		},
	}

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if err := validate.Struct(c.DB); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.StructField())
			}
			return fmt.Errorf("database config missing: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// DSN renders the postgres connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.Username,
		p.Password,
		p.URL,
		p.Port,
		p.Name,
		p.SSLMode,
	)
}

// BillingConfigured reports whether checkout and portal sessions can be created.
func (s StripeConfig) BillingConfigured() bool {
	return s.SecretKey != "" && s.PriceIDPro != "" && s.FrontendURL != ""
}

func loadEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func loadEnvAsInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func loadEnvAsBool(key string, defaultVal bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
