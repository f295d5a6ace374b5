package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/research-auth/internal/domain"
)

const minSigningSecretBytes = 64

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	OAuth      OAuthConfig
	Privileged PrivilegedConfig
	RateLimit  RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token issuance and the email domain rule.
type AuthConfig struct {
	JWTSecret              string
	JWTPreviousSecrets     []string
	JWTIssuer              string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	RefreshCleanupInterval time.Duration
	SessionPolicy          domain.SessionPolicy
	RefreshCookieName      string
	AllowedDomain          string
	DevAllowedSuffixes     []string
}

// OAuthConfig describes the identity provider client.
type OAuthConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	AuthURL         string
	TokenURL        string
	JWKSURL         string
	Issuers         []string
	Scopes          []string
	ExchangeTimeout time.Duration
}

// PrivilegedConfig points at the privileged user registry.
type PrivilegedConfig struct {
	Path string
}

// RateLimitConfig bounds requests against the auth endpoints.
type RateLimitConfig struct {
	AuthPerMinute int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "research-auth"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:              os.Getenv("AUTH_JWT_SECRET"),
			JWTPreviousSecrets:     getEnvAsList("AUTH_JWT_PREVIOUS_SECRETS", nil),
			JWTIssuer:              getEnv("AUTH_JWT_ISSUER", "research-repo"),
			AccessTokenTTL:         getEnvAsDuration("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:        getEnvAsDuration("AUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			RefreshCleanupInterval: getEnvAsDuration("AUTH_REFRESH_CLEANUP_INTERVAL", time.Hour),
			SessionPolicy:          domain.SessionPolicy(strings.ToLower(getEnv("AUTH_SESSION_POLICY", string(domain.SessionPolicyMulti)))),
			RefreshCookieName:      getEnv("AUTH_REFRESH_COOKIE_NAME", "refreshToken"),
			AllowedDomain:          strings.ToLower(getEnv("AUTH_ALLOWED_DOMAIN", "acdeducation.com")),
			DevAllowedSuffixes:     getEnvAsList("AUTH_DEV_ALLOWED_SUFFIXES", []string{".com"}),
		},
		OAuth: OAuthConfig{
			ClientID:        os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret:    os.Getenv("OAUTH_CLIENT_SECRET"),
			RedirectURI:     os.Getenv("OAUTH_REDIRECT_URI"),
			AuthURL:         getEnv("OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
			TokenURL:        getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			JWKSURL:         getEnv("OAUTH_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
			Issuers:         getEnvAsList("OAUTH_ISSUERS", []string{"https://accounts.google.com", "accounts.google.com"}),
			Scopes:          getEnvAsList("OAUTH_SCOPES", []string{"openid", "email", "profile"}),
			ExchangeTimeout: getEnvAsDuration("OAUTH_EXCHANGE_TIMEOUT", 10*time.Second),
		},
		Privileged: PrivilegedConfig{
			Path: os.Getenv("PRIVILEGED_USERS_PATH"),
		},
		RateLimit: RateLimitConfig{
			AuthPerMinute: getEnvAsInt("RATE_LIMIT_AUTH_PER_MINUTE", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or malformed required value at once.
func (c *Config) Validate() error {
	var problems []error
	if c.OAuth.ClientID == "" {
		problems = append(problems, errors.New("OAUTH_CLIENT_ID must be set"))
	}
	if c.OAuth.ClientSecret == "" {
		problems = append(problems, errors.New("OAUTH_CLIENT_SECRET must be set"))
	}
	if c.OAuth.RedirectURI == "" {
		problems = append(problems, errors.New("OAUTH_REDIRECT_URI must be set"))
	}
	if len(c.OAuth.Issuers) == 0 {
		problems = append(problems, errors.New("OAUTH_ISSUERS must list at least one issuer"))
	}
	if len(c.Auth.JWTSecret) < minSigningSecretBytes {
		problems = append(problems, fmt.Errorf("AUTH_JWT_SECRET must be at least %d bytes", minSigningSecretBytes))
	}
	for i, secret := range c.Auth.JWTPreviousSecrets {
		if len(secret) < minSigningSecretBytes {
			problems = append(problems, fmt.Errorf("AUTH_JWT_PREVIOUS_SECRETS[%d] must be at least %d bytes", i, minSigningSecretBytes))
		}
	}
	if c.Auth.JWTIssuer == "" {
		problems = append(problems, errors.New("AUTH_JWT_ISSUER must not be empty"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		problems = append(problems, errors.New("AUTH_ACCESS_TOKEN_TTL must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		problems = append(problems, errors.New("AUTH_REFRESH_TOKEN_TTL must be positive"))
	}
	if c.Auth.RefreshCleanupInterval < 0 {
		problems = append(problems, errors.New("AUTH_REFRESH_CLEANUP_INTERVAL must not be negative"))
	}
	switch c.Auth.SessionPolicy {
	case domain.SessionPolicyMulti, domain.SessionPolicySingle:
	default:
		problems = append(problems, fmt.Errorf("AUTH_SESSION_POLICY %q must be multi or single", c.Auth.SessionPolicy))
	}
	if c.App.IsProduction() && c.Auth.AllowedDomain == "" {
		problems = append(problems, errors.New("AUTH_ALLOWED_DOMAIN must be set in production"))
	}
	if c.App.IsProduction() && c.Postgres.DSN == "" {
		problems = append(problems, errors.New("POSTGRES_DSN must be set in production"))
	}
	if c.RateLimit.AuthPerMinute < 0 {
		problems = append(problems, errors.New("RATE_LIMIT_AUTH_PER_MINUTE must not be negative"))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(problems...))
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// IsProduction reports whether the strict domain rule and secure cookies apply.
func (a AppConfig) IsProduction() bool {
	switch strings.ToLower(a.Env) {
	case "production", "prod":
		return true
	}
	return false
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go durations ("15m") or a KEY_SECONDS integer.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
