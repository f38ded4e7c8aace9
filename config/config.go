// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DSN renders the libpq keyword/value connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr          string
	Password      string
	PriceCacheTTL time.Duration
	// RateLimit is the number of write requests a client may make per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

type GPTConfig struct {
	APIKey              string
	Model               string
	BaseURL             string
	ConfidenceThreshold float64
}

type SessionConfig struct {
	// Secret signs issued tokens. Both services must share it.
	Secret string
	KeyID  string
	// RetiredSecrets are still accepted for verification, keyed by key id.
	RetiredSecrets map[string]string
	Issuer         string
	TTL            time.Duration
	SweepInterval  time.Duration
}

type PriceConfig struct {
	Currency string
	Default  string
}

type ServerConfig struct {
	AdvisoryPort   string
	SettlementPort string
	PurchaseURL    string
	AdminKey       string
	// TrustProxy enables client addresses from forwarding headers. Set it only
	// behind a proxy that overwrites them.
	TrustProxy bool
}

type Config struct {
	Telegram struct {
		Token string
	}
	DB      DBConfig
	Redis   RedisConfig
	GPT     GPTConfig
	Session SessionConfig
	Price   PriceConfig
	Server  ServerConfig
	Storage struct {
		Driver string
	}
	ShutdownTimeout time.Duration
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.gold-bot")

	setDefaults(v)

	// Environment variables override config values
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		cfg := fromEnv(v)
		return cfg, cfg.Validate()
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("GPT.Model", "gpt-4o-mini")
	v.SetDefault("GPT.ConfidenceThreshold", 0.6)
	v.SetDefault("Server.AdvisoryPort", "8080")
	v.SetDefault("Server.SettlementPort", "8081")
	v.SetDefault("Server.PurchaseURL", "http://localhost:8081/purchase")
	v.SetDefault("DB.Host", "localhost")
	v.SetDefault("DB.Port", "5432")
	v.SetDefault("DB.SSLMode", "disable")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("Redis.PriceCacheTTL", 30*time.Second)
	v.SetDefault("Redis.RateLimit", 60)
	v.SetDefault("Redis.RateWindow", time.Minute)
	v.SetDefault("Session.KeyID", "k1")
	v.SetDefault("Session.Issuer", "gold-bot-advisory")
	v.SetDefault("Session.TTL", time.Hour)
	v.SetDefault("Session.SweepInterval", 5*time.Minute)
	v.SetDefault("Price.Currency", "RUB")
	v.SetDefault("Price.Default", "6500.00")
	v.SetDefault("Storage.Driver", "postgres")
}

// fromEnv builds the config from environment variables when no config file exists.
func fromEnv(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	cfg.DB = DBConfig{
		Host:         getEnvOr("DB_HOST", "localhost"),
		Port:         getEnvOr("DB_PORT", "5432"),
		User:         getEnvOr("DB_USER", "postgres"),
		Password:     getEnvOr("DB_PASSWORD", "postgres"),
		DBName:       getEnvOr("DB_NAME", "gold_bot"),
		SSLMode:      getEnvOr("DB_SSL_MODE", "disable"),
		MaxOpenConns: v.GetInt("DB.MaxOpenConns"),
		MaxIdleConns: v.GetInt("DB.MaxIdleConns"),
		ConnLifetime: v.GetDuration("DB.ConnLifetime"),
	}
	cfg.Redis = RedisConfig{
		Addr:          os.Getenv("REDIS_ADDR"),
		Password:      os.Getenv("REDIS_PASSWORD"),
		PriceCacheTTL: v.GetDuration("Redis.PriceCacheTTL"),
		RateLimit:     v.GetInt("Redis.RateLimit"),
		RateWindow:    v.GetDuration("Redis.RateWindow"),
	}
	cfg.GPT = GPTConfig{
		APIKey:              os.Getenv("GPT_API_KEY"),
		Model:               getEnvOr("GPT_MODEL", v.GetString("GPT.Model")),
		BaseURL:             os.Getenv("GPT_BASE_URL"),
		ConfidenceThreshold: getEnvFloatOr("GPT_CONFIDENCE_THRESHOLD", v.GetFloat64("GPT.ConfidenceThreshold")),
	}
	cfg.Session = SessionConfig{
		Secret:        os.Getenv("SESSION_SECRET"),
		KeyID:         getEnvOr("SESSION_KEY_ID", v.GetString("Session.KeyID")),
		Issuer:        getEnvOr("SESSION_ISSUER", v.GetString("Session.Issuer")),
		TTL:           v.GetDuration("Session.TTL"),
		SweepInterval: v.GetDuration("Session.SweepInterval"),
	}
	cfg.Price = PriceConfig{
		Currency: getEnvOr("PRICE_CURRENCY", v.GetString("Price.Currency")),
		Default:  getEnvOr("PRICE_DEFAULT", v.GetString("Price.Default")),
	}
	cfg.Server = ServerConfig{
		AdvisoryPort:   getEnvOr("ADVISORY_PORT", v.GetString("Server.AdvisoryPort")),
		SettlementPort: getEnvOr("SETTLEMENT_PORT", v.GetString("Server.SettlementPort")),
		PurchaseURL:    getEnvOr("PURCHASE_URL", v.GetString("Server.PurchaseURL")),
		AdminKey:       os.Getenv("ADMIN_KEY"),
		TrustProxy:     os.Getenv("TRUST_PROXY") == "true",
	}
	cfg.Storage.Driver = getEnvOr("STORAGE_DRIVER", v.GetString("Storage.Driver"))
	cfg.ShutdownTimeout = v.GetDuration("ShutdownTimeout")

	return cfg
}

// Validate checks the settings both services cannot run without.
func (c *Config) Validate() error {
	if len(c.Session.Secret) < 32 {
		return errors.New("session secret must be at least 32 bytes")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if c.Session.KeyID == "" {
		return errors.New("session key id is required")
	}
	if _, err := c.DefaultPrice(); err != nil {
		return err
	}
	if c.Price.Currency == "" {
		return errors.New("price currency is required")
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// DefaultPrice parses the static fallback price.
func (c *Config) DefaultPrice() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(c.Price.Default)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid default price %q: %w", c.Price.Default, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("default price must be positive, got %s", price)
	}
	return price, nil
}

// Helper function to get environment variable with default value
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloatOr(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
