package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an optional .env file in local development).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Video    VideoConfig
	Payments PaymentsConfig
	Calls    CallsConfig
	Ledger   LedgerConfig
	HTTP     HTTPConfig
}

type AppConfig struct {
	Env  string
	Port int

	// Timezone defines local midnight for daily allowances and calendar months for rewards.
	Timezone string
	Location *time.Location
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type VideoConfig struct {
	APIURL      string
	APIKey      string
	TokenSecret string
	TokenTTL    time.Duration
}

type PaymentsConfig struct {
	WebhookSecret string
	Currency      string
}

type CallsConfig struct {
	InviteTTL          time.Duration
	CallerVisibility   time.Duration
	GracePeriod        time.Duration
	RingLimit          int
	RingWindow         time.Duration
	FreeTrialDays      int
	ProposalJoinWindow time.Duration

	ExtensionPriceCents  int64
	ExtensionSeconds     int
	ExtensionResponseTTL time.Duration
	ExtensionPaymentTTL  time.Duration
}

type LedgerConfig struct {
	RewardPartnerThreshold int
	RewardDiscountPct      int
	CreditPackSize         int
	CreditPackPriceCents   int64
}

type HTTPConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() (Config, error) {
	// .env is optional; real deployments inject env directly.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = requiredInt(parseErrs, "APP_PORT")
	c.App.Timezone = strings.TrimSpace(os.Getenv("APP_TIMEZONE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = requiredInt(parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = requiredInt(parseErrs, "REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optionalDuration("JWT_REFRESH_TTL")

	c.Video.APIURL = strings.TrimSpace(os.Getenv("VIDEO_API_URL"))
	c.Video.APIKey = os.Getenv("VIDEO_API_KEY")
	c.Video.TokenSecret = os.Getenv("VIDEO_TOKEN_SECRET")
	c.Video.TokenTTL = optionalDuration("VIDEO_TOKEN_TTL")

	c.Payments.WebhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	c.Payments.Currency = strings.TrimSpace(os.Getenv("PAYMENT_CURRENCY"))

	c.Calls.InviteTTL = optionalDuration("CALL_INVITE_TTL")
	c.Calls.CallerVisibility = optionalDuration("CALL_CALLER_VISIBILITY")
	c.Calls.GracePeriod = optionalDuration("CALL_GRACE_PERIOD")
	c.Calls.RingLimit, parseErrs = optionalInt(parseErrs, "CALL_RING_LIMIT")
	c.Calls.RingWindow = optionalDuration("CALL_RING_WINDOW")
	c.Calls.FreeTrialDays, parseErrs = optionalInt(parseErrs, "CALL_FREE_TRIAL_DAYS")
	c.Calls.ProposalJoinWindow = optionalDuration("CALL_PROPOSAL_JOIN_WINDOW")
	{
		var n int
		n, parseErrs = optionalInt(parseErrs, "EXTENSION_PRICE_CENTS")
		c.Calls.ExtensionPriceCents = int64(n)
	}
	c.Calls.ExtensionSeconds, parseErrs = optionalInt(parseErrs, "EXTENSION_SECONDS")
	c.Calls.ExtensionResponseTTL = optionalDuration("EXTENSION_RESPONSE_TTL")
	c.Calls.ExtensionPaymentTTL = optionalDuration("EXTENSION_PAYMENT_TTL")

	c.Ledger.RewardPartnerThreshold, parseErrs = optionalInt(parseErrs, "REWARD_PARTNER_THRESHOLD")
	c.Ledger.RewardDiscountPct, parseErrs = optionalInt(parseErrs, "REWARD_CREDIT_DISCOUNT_PCT")
	c.Ledger.CreditPackSize, parseErrs = optionalInt(parseErrs, "CREDIT_PACK_SIZE")
	{
		var n int
		n, parseErrs = optionalInt(parseErrs, "CREDIT_PACK_PRICE_CENTS")
		c.Ledger.CreditPackPriceCents = int64(n)
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("HTTP_RATE_LIMIT_RPS must be a number, got %q", v))
		}
		c.HTTP.RateLimitRPS = f
	}
	c.HTTP.RateLimitBurst, parseErrs = optionalInt(parseErrs, "HTTP_RATE_LIMIT_BURST")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "UTC"
	}
	if loc, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("APP_TIMEZONE must be an IANA zone, got %q", c.App.Timezone))
	} else {
		c.App.Location = loc
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Video.APIURL == "" {
		errs = append(errs, errors.New("VIDEO_API_URL is required"))
	}
	if c.Video.TokenSecret == "" {
		errs = append(errs, errors.New("VIDEO_TOKEN_SECRET is required"))
	}
	if c.Video.TokenTTL <= 0 {
		c.Video.TokenTTL = 2 * time.Hour
	}

	if c.Payments.WebhookSecret == "" {
		errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET is required"))
	}
	if c.Payments.Currency == "" {
		c.Payments.Currency = "USD"
	}

	c.Calls.applyDefaults()
	c.Ledger.applyDefaults()
	if c.Ledger.RewardDiscountPct < 0 || c.Ledger.RewardDiscountPct > 100 {
		errs = append(errs, fmt.Errorf("REWARD_CREDIT_DISCOUNT_PCT must be within 0..100, got %d", c.Ledger.RewardDiscountPct))
	}

	if c.HTTP.RateLimitRPS <= 0 {
		c.HTTP.RateLimitRPS = 10
	}
	if c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = 20
	}

	return joinErrors(errs)
}

func (c *CallsConfig) applyDefaults() {
	if c.InviteTTL <= 0 {
		c.InviteTTL = 60 * time.Second
	}
	if c.CallerVisibility <= 0 {
		c.CallerVisibility = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 60 * time.Second
	}
	if c.RingLimit <= 0 {
		c.RingLimit = 5
	}
	if c.RingWindow <= 0 {
		c.RingWindow = 10 * time.Minute
	}
	if c.FreeTrialDays <= 0 {
		c.FreeTrialDays = 14
	}
	if c.ProposalJoinWindow <= 0 {
		c.ProposalJoinWindow = 15 * time.Minute
	}
	if c.ExtensionPriceCents <= 0 {
		c.ExtensionPriceCents = 299
	}
	if c.ExtensionSeconds <= 0 {
		c.ExtensionSeconds = 600
	}
	if c.ExtensionResponseTTL <= 0 {
		c.ExtensionResponseTTL = 60 * time.Second
	}
	if c.ExtensionPaymentTTL <= 0 {
		c.ExtensionPaymentTTL = 5 * time.Minute
	}
}

func (c *LedgerConfig) applyDefaults() {
	if c.RewardPartnerThreshold <= 0 {
		c.RewardPartnerThreshold = 3
	}
	if c.RewardDiscountPct == 0 {
		c.RewardDiscountPct = 20
	}
	if c.CreditPackSize <= 0 {
		c.CreditPackSize = 20
	}
	if c.CreditPackPriceCents <= 0 {
		c.CreditPackPriceCents = 499
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func requiredInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, append(errs, fmt.Errorf("%s is required", key))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
