// Package config holds the environment-driven configuration for the
// service. Values come from the process environment, optionally seeded
// from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/chi-demo/app"

	"github.com/canyonlabs/usermgr/pkg/login"
)

type DbConfig struct {
	Host     string `env:"USERMGR_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"USERMGR_PG_PORT" env-default:"5432"`
	Database string `env:"USERMGR_PG_DATABASE" env-default:"usermgr_db"`
	User     string `env:"USERMGR_PG_USER" env-default:"usermgr"`
	Password string `env:"USERMGR_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"USERMGR_PG_SCHEMA" env-default:"public"`
}

func (d DbConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type RedisConfig struct {
	// Empty URL keeps the token registry in process memory.
	URL string `env:"REDIS_URL" env-default:""`
}

type JwtConfig struct {
	Secret             string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer             string `env:"JWT_ISSUER" env-default:"usermgr"`
	Audience           string `env:"JWT_AUDIENCE" env-default:"usermgr"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	CookieHttpOnly     bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure       bool   `env:"COOKIE_SECURE" env-default:"true"`
}

// AccessExpiry parses the access token expiry, falling back to the
// service default when the value does not parse.
func (j JwtConfig) AccessExpiry() time.Duration {
	return parseDuration(j.AccessTokenExpiry, tokensDefaultAccess)
}

func (j JwtConfig) RefreshExpiry() time.Duration {
	return parseDuration(j.RefreshTokenExpiry, tokensDefaultRefresh)
}

const (
	tokensDefaultAccess  = 15 * time.Minute
	tokensDefaultRefresh = 168 * time.Hour
)

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration, using default", "value", value, "default", fallback)
		return fallback
	}
	return d
}

type LoginConfig struct {
	MaxFailedAttempts int    `env:"LOGIN_MAX_FAILED_ATTEMPTS" env-default:"5"`
	LockoutDuration   string `env:"LOGIN_LOCKOUT_DURATION" env-default:"15m"`
}

func (l LoginConfig) LockDuration() time.Duration {
	return parseDuration(l.LockoutDuration, login.DefaultLockDuration)
}

type PasswordPolicyConfig struct {
	MinLength         int  `env:"PASSWORD_MIN_LENGTH" env-default:"8"`
	RequireUppercase  bool `env:"PASSWORD_REQUIRE_UPPERCASE" env-default:"true"`
	RequireLowercase  bool `env:"PASSWORD_REQUIRE_LOWERCASE" env-default:"true"`
	RequireDigit      bool `env:"PASSWORD_REQUIRE_DIGIT" env-default:"true"`
	RequireSpecial    bool `env:"PASSWORD_REQUIRE_SPECIAL" env-default:"true"`
	HistoryCheckCount int  `env:"PASSWORD_HISTORY_COUNT" env-default:"5"`
}

// ToPolicy maps the env values onto the login package's policy type.
func (p PasswordPolicyConfig) ToPolicy() *login.PasswordPolicy {
	return &login.PasswordPolicy{
		MinLength:          p.MinLength,
		RequireUppercase:   p.RequireUppercase,
		RequireLowercase:   p.RequireLowercase,
		RequireDigit:       p.RequireDigit,
		RequireSpecialChar: p.RequireSpecial,
		HistoryCheckCount:  p.HistoryCheckCount,
	}
}

type RateLimitConfig struct {
	LoginCapacity  int     `env:"RATELIMIT_LOGIN_CAPACITY" env-default:"10"`
	LoginPerMinute float64 `env:"RATELIMIT_LOGIN_PER_MINUTE" env-default:"20"`
}

type Config struct {
	AppConfig            app.AppConfig
	DbConfig             DbConfig
	RedisConfig          RedisConfig
	JwtConfig            JwtConfig
	LoginConfig          LoginConfig
	PasswordPolicyConfig PasswordPolicyConfig
	RateLimitConfig      RateLimitConfig
}
