package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/hysteria-id/hysteria/internal/logger"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultIssuer          = "hysteria"
	defaultAudience        = "hysteria-users"
	defaultLoginURL        = "/auth/login"
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Optional redis address; when set refresh records live in redis
	RedisAddr string

	// Secret key for signing access tokens (symmetric)
	SecretKey string

	// Issuer and audience claims enforced on every verify
	Issuer   string
	Audience string

	// Token lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Where denied page requests get redirected
	LoginURL string

	// Mark session cookies Secure (behind TLS)
	CookieSecure bool

	// Revoke the whole rotation chain when a rotated token reappears
	RevokeChainOnReuse bool

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Issuer:          defaultIssuer,
		Audience:        defaultAudience,
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		LoginURL:        defaultLoginURL,
		Environment:     defaultEnvironment,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":           setString(&c.ListenAddr),
		"DATABASE_URI":          setString(&c.DatabaseDSN),
		"REDIS_ADDR":            setString(&c.RedisAddr),
		"SECRET_KEY":            setString(&c.SecretKey),
		"TOKEN_ISSUER":          setString(&c.Issuer),
		"TOKEN_AUDIENCE":        setString(&c.Audience),
		"ACCESS_TOKEN_TTL":      setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":     setDuration(&c.RefreshTokenTTL),
		"LOGIN_URL":             setString(&c.LoginURL),
		"COOKIE_SECURE":         setBool(&c.CookieSecure),
		"REVOKE_CHAIN_ON_REUSE": setBool(&c.RevokeChainOnReuse),
		"LOG_LEVEL":             setString(&c.LogLevel),
		"ENVIRONMENT":           setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("error while parsing env %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("hysteria", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for refresh token storage")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVar(&c.Issuer, "issuer", c.Issuer, "Access token issuer claim")
	fs.StringVar(&c.Audience, "audience", c.Audience, "Access token audience claim")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.StringVar(&c.LoginURL, "login-url", c.LoginURL, "Redirect target for denied page requests")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Set Secure on session cookies")
	fs.BoolVar(&c.RevokeChainOnReuse, "revoke-chain-on-reuse", c.RevokeChainOnReuse, "Revoke whole chain on refresh token reuse")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
