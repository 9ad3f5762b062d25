package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper   string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	PlatformFeeBps int64  `default:"0" usage:"Platform fee in basis points added to the gateway amount" flag:"platform-fee-bps"`
	Gateway        GatewayConfig
	Reconcile      ReconcileConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// GatewayConfig holds the payment vendor endpoint and credentials.
type GatewayConfig struct {
	BaseURL   string        `default:"https://api.razorpay.com" usage:"Payment gateway base URL" flag:"gateway-url"`
	KeyID     string        `usage:"Payment gateway key id (KART_GATEWAY_KEY_ID)" flag:"gateway-key-id"`
	KeySecret string        `usage:"Payment gateway key secret (KART_GATEWAY_KEY_SECRET)" flag:"gateway-key-secret"`
	Currency  string        `default:"INR" usage:"Currency for payment intents"`
	Timeout   time.Duration `default:"10s" usage:"Gateway request timeout"`
}

// ReconcileConfig controls the background repair of partially failed
// settlements.
type ReconcileConfig struct {
	Interval time.Duration `default:"1m" usage:"Reconciliation pass interval (0 disables)" flag:"reconcile-interval"`
	Batch    int           `default:"50" usage:"Max orders repaired per pass" flag:"reconcile-batch"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "" {
		return nil, errors.New("gateway credentials are required: set KART_GATEWAY_KEY_ID and KART_GATEWAY_KEY_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
