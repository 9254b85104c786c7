package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/referral"
)

// Config holds the complete application configuration, loadable from
// environment variables (VASTRAM_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (VASTRAM_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// PaymentSecret is the shared HMAC secret for payment callback signatures.
	PaymentSecret string `usage:"Payment provider webhook signing secret (VASTRAM_PAYMENT_SECRET)" flag:"payment-secret"`
	Referral      ReferralConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// ReferralConfig controls reward sizing and the referral code prefilter.
// Amounts are decimal strings so they never round-trip through float64.
type ReferralConfig struct {
	CommissionPercent string  `default:"10" usage:"Commission percent of a referred user's first delivered order" flag:"commission-percent"`
	SignupBonus       string  `default:"50" usage:"Bonus credited to every new account" flag:"signup-bonus"`
	ReferralBonus     string  `default:"25" usage:"Bonus credited to the referrer on signup" flag:"referral-bonus"`
	ExpectedCodes     uint    `default:"100000" usage:"Expected number of issued referral codes (bloom filter sizing)" flag:"expected-codes"`
	FalsePositiveRate float64 `default:"0.01" usage:"Bloom filter false positive rate" flag:"code-fp-rate"`
}

// Policy parses the configured reward amounts into a referral.Policy.
func (c ReferralConfig) Policy() (referral.Policy, error) {
	var (
		p   referral.Policy
		err error
	)
	if p.CommissionPercent, err = decimal.NewFromString(c.CommissionPercent); err != nil {
		return p, errors.Wrap(err, "parse commission percent")
	}
	if p.SignupBonus, err = decimal.NewFromString(c.SignupBonus); err != nil {
		return p, errors.Wrap(err, "parse signup bonus")
	}
	if p.ReferralBonus, err = decimal.NewFromString(c.ReferralBonus); err != nil {
		return p, errors.Wrap(err, "parse referral bonus")
	}
	return p, nil
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VASTRAM",
		Files:     []string{"config.yaml", "/etc/vastram/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set VASTRAM_DATABASE_URL or DATABASE_URL")
	}
	if cfg.PaymentSecret == "" {
		return nil, errors.New("payment secret is required: set VASTRAM_PAYMENT_SECRET")
	}
	if _, err := cfg.Referral.Policy(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's VASTRAM_-prefixed configuration.
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
