package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Twilio   TwilioConfig
	Telegram TelegramConfig
	Delivery DeliveryConfig
	Admin    AdminConfig
	LogLevel string
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
	Expiry    time.Duration
}

type OTPConfig struct {
	Store         string
	ChatLinkStore string
	Length        int
	Expiry        time.Duration
	MaxAttempts   int
	HashCost      int
	Retention     time.Duration
	DemoMode      bool
	DemoCode      string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

type TelegramConfig struct {
	BotToken      string
	WebhookSecret string
	BaseURL       string
}

type DeliveryConfig struct {
	Timeout            time.Duration
	DefaultCountryCode string
}

type AdminConfig struct {
	APIKey string
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
)

// Load reads configuration from the environment, after merging an optional .env file.
func Load() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "VoteVerify"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
			Expiry:    getEnvAsDuration("JWT_EXPIRY", 15*time.Minute),
		},
		OTP: OTPConfig{
			Store:         strings.ToLower(getEnv("OTP_STORE", StoreMemory)),
			ChatLinkStore: strings.ToLower(getEnv("CHAT_LINK_STORE", StoreMemory)),
			Length:        getEnvAsInt("OTP_LENGTH", 6),
			Expiry:        getEnvAsDuration("OTP_EXPIRY", 10*time.Minute),
			MaxAttempts:   getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			HashCost:      getEnvAsInt("OTP_HASH_COST", 10),
			Retention:     getEnvAsDuration("OTP_RETENTION", time.Hour),
			DemoMode:      getEnvAsBool("DEMO_MODE", false),
			DemoCode:      getEnv("OTP_DEMO_CODE", "123456"),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
			BaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		},
		Delivery: DeliveryConfig{
			Timeout:            getEnvAsDuration("DELIVERY_TIMEOUT", 10*time.Second),
			DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "1"),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTP.Length)
	}

	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTP.MaxAttempts)
	}

	if c.OTP.DemoMode {
		if len(c.OTP.DemoCode) != c.OTP.Length {
			return fmt.Errorf("OTP_DEMO_CODE must be %d digits long", c.OTP.Length)
		}
		if strings.Trim(c.OTP.DemoCode, "0123456789") != "" {
			return fmt.Errorf("OTP_DEMO_CODE must contain only digits")
		}
	}

	backends := []string{StoreMemory, StoreRedis, StoreDynamoDB}
	if !lo.Contains(backends, c.OTP.Store) {
		return fmt.Errorf("OTP_STORE must be one of %v, got %q", backends, c.OTP.Store)
	}
	if !lo.Contains([]string{StoreMemory, StoreDynamoDB}, c.OTP.ChatLinkStore) {
		return fmt.Errorf("CHAT_LINK_STORE must be memory or dynamodb, got %q", c.OTP.ChatLinkStore)
	}

	return nil
}

// MissingCredentials lists the delivery credential variables that are unset.
func (c *Config) MissingCredentials() []string {
	vars := map[string]string{
		"TWILIO_ACCOUNT_SID":  c.Twilio.AccountSID,
		"TWILIO_AUTH_TOKEN":   c.Twilio.AuthToken,
		"TWILIO_PHONE_NUMBER": c.Twilio.FromNumber,
		"TELEGRAM_BOT_TOKEN":  c.Telegram.BotToken,
	}
	order := []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER", "TELEGRAM_BOT_TOKEN"}

	return lo.Filter(order, func(name string, _ int) bool {
		return vars[name] == ""
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := lo.Map(strings.Split(value, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(parts)
}
