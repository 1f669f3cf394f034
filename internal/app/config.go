package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (OPTIC_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (OPTIC_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	DatabaseConns int32  `default:"20" usage:"Maximum PostgreSQL connections" flag:"database-conns"`
	SessionPepper string `usage:"HMAC pepper for session token hashing (OPTIC_SESSION_PEPPER)" flag:"session-pepper"`
	Razorpay      RazorpayConfig
	Pricing       PricingConfig
	Orders        OrdersConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// RazorpayConfig holds the payment gateway credentials.
type RazorpayConfig struct {
	KeyID     string `usage:"Razorpay public key id" flag:"razorpay-key-id"`
	KeySecret string `usage:"Razorpay key secret, also the signature secret" flag:"razorpay-key-secret"`
	BaseURL   string `default:"https://api.razorpay.com/v1" usage:"Razorpay API base URL" flag:"razorpay-base-url"`
	Currency  string `default:"INR" usage:"Settlement currency"`
}

// PricingConfig controls the shipping policy.
type PricingConfig struct {
	FreeShippingThreshold string `default:"999" usage:"Subtotal at or above which shipping is free" flag:"free-shipping-threshold"`
	ShippingFee           string `default:"99" usage:"Flat shipping fee below the threshold" flag:"shipping-fee"`
}

// OrdersConfig controls order numbering.
type OrdersConfig struct {
	NumberPrefix string `default:"EW" usage:"Two-letter order number prefix" flag:"order-prefix"`
}

// RedisConfig enables the shared payment replay guard. Without a URL an
// in-process guard is used.
type RedisConfig struct {
	URL       string        `usage:"Redis URL (OPTIC_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	ReplayTTL time.Duration `default:"168h" usage:"How long settled payment ids are remembered" flag:"replay-ttl"`
}

// KafkaConfig enables order event publishing. Without brokers events are
// logged.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses" flag:"kafka-brokers"`
	Topic   string   `default:"order-events" usage:"Order events topic" flag:"kafka-topic"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from
// environment variables and YAML config files, and applies platform
// defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "OPTIC",
		Files:     []string{"config.yaml", "/etc/optic/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set OPTIC_DATABASE_URL or DATABASE_URL")
	}
	if c.SessionPepper == "" {
		return errors.New("session pepper is required: set OPTIC_SESSION_PEPPER")
	}
	if c.Razorpay.KeySecret == "" {
		return errors.New("razorpay key secret is required: set OPTIC_RAZORPAY_KEY_SECRET")
	}
	if _, _, err := c.Pricing.Amounts(); err != nil {
		return err
	}
	return nil
}

// Amounts parses the shipping threshold and fee.
func (p PricingConfig) Amounts() (threshold, fee decimal.Decimal, err error) {
	threshold, err = decimal.NewFromString(p.FreeShippingThreshold)
	if err != nil {
		return threshold, fee, errors.Wrap(err, "parse free shipping threshold")
	}
	fee, err = decimal.NewFromString(p.ShippingFee)
	if err != nil {
		return threshold, fee, errors.Wrap(err, "parse shipping fee")
	}
	if threshold.IsNegative() || fee.IsNegative() {
		return threshold, fee, errors.New("shipping amounts must not be negative")
	}
	return threshold, fee, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) to the OPTIC_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
