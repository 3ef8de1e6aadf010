package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the console process.
// Values come from env; an optional .env file is loaded first for local runs.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Backend BackendConfig
	Voice   VoiceConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// BackendConfig points at the remote business backend that owns the
// signaling token endpoint, number provisioning and call history.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type VoiceConfig struct {
	// DefaultCountryCode is prepended to destinations that carry no country code.
	DefaultCountryCode string
	// StrictNumbers rejects destinations outside the recognized shapes
	// instead of assuming DefaultCountryCode.
	StrictNumbers bool
	// AgentIdentity is the voice client identity inbound calls ring.
	AgentIdentity string

	TickInterval    time.Duration
	ActiveCallTTL   time.Duration
	NumbersCacheTTL time.Duration
}

func Load() (Config, error) {
	// Missing .env is fine; the process runner may inject env directly.
	_ = godotenv.Load()

	var env envReader
	c := Config{
		App: AppConfig{
			Env:  env.str("APP_ENV"),
			Port: env.requiredInt("APP_PORT"),
		},
		DB: DBConfig{
			Host:     env.str("DB_HOST"),
			Port:     env.requiredInt("DB_PORT"),
			User:     env.str("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     env.str("DB_NAME"),
			SSLMode:  env.str("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     env.str("REDIS_HOST"),
			Port:     env.requiredInt("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       env.optionalInt("REDIS_DB"),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("JWT_SECRET"),
			JWTIssuer:       env.str("JWT_ISSUER"),
			JWTAudience:     env.str("JWT_AUDIENCE"),
			AccessTokenTTL:  env.duration("JWT_ACCESS_TTL"),
			RefreshTokenTTL: env.duration("JWT_REFRESH_TTL"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(env.str("BACKEND_BASE_URL"), "/"),
			Timeout: env.duration("BACKEND_TIMEOUT"),
		},
		Voice: VoiceConfig{
			DefaultCountryCode: strings.TrimPrefix(env.str("VOICE_DEFAULT_COUNTRY_CODE"), "+"),
			StrictNumbers:      env.boolean("VOICE_STRICT_NUMBERS"),
			AgentIdentity:      env.str("VOICE_AGENT_IDENTITY"),
			TickInterval:       env.duration("VOICE_TICK_INTERVAL"),
			ActiveCallTTL:      env.duration("VOICE_ACTIVE_CALL_TTL"),
			NumbersCacheTTL:    env.duration("NUMBERS_CACHE_TTL"),
		},
	}

	if err := joinErrors(env.errs); err != nil {
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
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
	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.Redis.DB))
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

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_BASE_URL must be an absolute URL, got %q", c.Backend.BaseURL))
	} else if c.IsProduction() && u.Scheme != "https" {
		errs = append(errs, errors.New("BACKEND_BASE_URL must use https in production"))
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 30 * time.Second
	}

	if c.Voice.DefaultCountryCode == "" {
		c.Voice.DefaultCountryCode = "1"
	} else if !isDigits(c.Voice.DefaultCountryCode) || len(c.Voice.DefaultCountryCode) > 3 {
		errs = append(errs, fmt.Errorf("VOICE_DEFAULT_COUNTRY_CODE must be 1-3 digits, got %q", c.Voice.DefaultCountryCode))
	}
	if c.Voice.AgentIdentity == "" {
		c.Voice.AgentIdentity = "agent"
	}
	if c.Voice.TickInterval <= 0 {
		c.Voice.TickInterval = time.Second
	}
	if c.Voice.ActiveCallTTL <= 0 {
		// Upper bound on a leaked active-call slot if the process dies mid-call.
		c.Voice.ActiveCallTTL = 4 * time.Hour
	}
	if c.Voice.NumbersCacheTTL <= 0 {
		c.Voice.NumbersCacheTTL = 10 * time.Minute
	}

	return joinErrors(errs)
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

// envReader reads trimmed env values and collects parse failures so Load can
// report every bad variable at once. Unset optional values read as zero and
// get their defaults in Validate.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (r *envReader) requiredInt(key string) int {
	if r.str(key) == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return r.optionalInt(key)
}

func (r *envReader) optionalInt(key string) int {
	v := r.str(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (r *envReader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration like 30s, got %q", key, v))
		return 0
	}
	return d
}

func (r *envReader) boolean(key string) bool {
	v := r.str(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return false
	}
	return b
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

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = "- " + e.Error()
	}
	return errors.New("config errors:\n" + strings.Join(msgs, "\n"))
}
