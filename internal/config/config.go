package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"-"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	// Assistant Service
	AssistantURL      string        `mapstructure:"ASSISTANT_URL"`
	AssistantTimeout  time.Duration `mapstructure:"ASSISTANT_TIMEOUT"`
	AssistantEmbedded bool          `mapstructure:"ASSISTANT_EMBEDDED"`
	OpenAIAPIKey      string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel       string        `mapstructure:"OPENAI_MODEL"`

	// Domain events
	KafkaBrokers []string `mapstructure:"-"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	// Referral expiry job; zero disables it.
	ReferralExpiry         time.Duration `mapstructure:"REFERRAL_EXPIRY"`
	ReferralExpiryInterval time.Duration `mapstructure:"REFERRAL_EXPIRY_INTERVAL"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"ASSISTANT_URL", "ASSISTANT_TIMEOUT", "ASSISTANT_EMBEDDED", "OPENAI_API_KEY", "OPENAI_MODEL",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "REFERRAL_EXPIRY", "REFERRAL_EXPIRY_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("ASSISTANT_URL", "http://localhost:8000")
	v.SetDefault("ASSISTANT_TIMEOUT", "60s")
	v.SetDefault("ASSISTANT_EMBEDDED", false)
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("KAFKA_TOPIC", "medscribe.events")
	v.SetDefault("REFERRAL_EXPIRY", "0s")
	v.SetDefault("REFERRAL_EXPIRY_INTERVAL", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists are split here; mapstructure would keep the
	// surrounding spaces.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; identity comes from X-Dev-* headers.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (identity from X-Dev-* headers)
//   - AUTH_ISSUER set → "external" (Keycloak, Auth0, etc.)
//   - Otherwise       → "shared-secret" (HS256 tokens signed with AUTH_SIGNING_KEY)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "shared-secret"
}

// SigningKey decodes AUTH_SIGNING_KEY. It returns nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development":
	case "external":
		if c.AuthIssuer == "" {
			return fmt.Errorf(
				"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	case "shared-secret":
		key, err := c.SigningKey()
		if err != nil {
			return err
		}
		if len(key) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"shared-secret\", or \"external\", got %q", mode)
	}

	if c.AssistantURL != "" {
		u, err := url.Parse(c.AssistantURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ASSISTANT_URL must be an absolute URL, got %q", c.AssistantURL)
		}
	}
	if c.AssistantTimeout < 0 {
		return fmt.Errorf("ASSISTANT_TIMEOUT must not be negative")
	}
	if c.ReferralExpiry < 0 {
		return fmt.Errorf("REFERRAL_EXPIRY must not be negative")
	}
	if c.ReferralExpiry > 0 && c.ReferralExpiryInterval <= 0 {
		return fmt.Errorf("REFERRAL_EXPIRY_INTERVAL must be positive when REFERRAL_EXPIRY is set")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return nil
}
