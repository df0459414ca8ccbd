package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edlab/edlab/internal/models"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"

	VerificationStrict = "strict"
	VerificationDemo   = "demo"

	SMSProviderLog    = "log"
	SMSProviderTwilio = "twilio"

	EnvProduction = "production"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Ledger   LedgerConfig
	Kafka    KafkaConfig
	SMS      SMSConfig
}

type ServerConfig struct {
	Port           string
	Environment    string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// IsProduction reports whether stack traces and other debug output must be withheld.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

type StoreConfig struct {
	Backend string
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
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type OTPConfig struct {
	Length           int
	Expiry           time.Duration
	VerificationMode string
	HashCost         int
}

type LedgerConfig struct {
	DefaultBalance int64
	HistoryLimit   int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SMSConfig struct {
	Provider         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioBaseURL    string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Environment:    getEnv("APP_ENV", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 1),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 5),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "EdLabTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			Length:           getEnvAsInt("OTP_LENGTH", 4),
			Expiry:           getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			VerificationMode: strings.ToLower(getEnv("OTP_VERIFICATION_MODE", VerificationStrict)),
			HashCost:         getEnvAsInt("OTP_HASH_COST", bcrypt.DefaultCost),
		},
		Ledger: LedgerConfig{
			DefaultBalance: getEnvAsInt64("LEDGER_DEFAULT_BALANCE", 100),
			HistoryLimit:   getEnvAsInt("LEDGER_HISTORY_LIMIT", 20),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "edlab.events"),
		},
		SMS: SMSConfig{
			Provider:         strings.ToLower(getEnv("SMS_PROVIDER", SMSProviderLog)),
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
			TwilioBaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StoreDynamoDB:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, dynamodb; got %q", c.Store.Backend)
	}

	switch c.OTP.VerificationMode {
	case VerificationStrict, VerificationDemo:
	default:
		return fmt.Errorf("OTP_VERIFICATION_MODE must be strict or demo; got %q", c.OTP.VerificationMode)
	}

	if c.OTP.Length < 4 || c.OTP.Length > 8 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 8")
	}

	if c.OTP.HashCost < bcrypt.MinCost || c.OTP.HashCost > bcrypt.MaxCost {
		return fmt.Errorf("OTP_HASH_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Ledger.DefaultBalance < 0 || c.Ledger.DefaultBalance > models.MaxTokenAmount {
		return fmt.Errorf("LEDGER_DEFAULT_BALANCE must be between 0 and %d", models.MaxTokenAmount)
	}

	if c.Ledger.HistoryLimit <= 0 {
		return fmt.Errorf("LEDGER_HISTORY_LIMIT must be positive")
	}

	if c.SMS.Provider == SMSProviderTwilio &&
		(c.SMS.TwilioAccountSID == "" || c.SMS.TwilioAuthToken == "" || c.SMS.TwilioFromNumber == "") {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio SMS provider")
	}

	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
