package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/service/ledger"
)

// Topup confirmation modes
const (
	// Topup is credited right away with mock provider reference
	ConfirmImmediate = "immediate"

	// Topup stays pending until provider webhook or reconciler
	ConfirmWebhook = "webhook"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultConfirmMode  = ConfirmImmediate
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the wallet service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key shared with auth service to verify JWT access tokens
	SecretKey string

	// Secret shared with payment provider to verify webhook signatures
	WebhookSecret string

	// Environment
	Environment string

	// Redis to publish wallet events to, events are not published if empty
	RedisURL string

	// Payment provider gateway, reconciler is not started if empty
	ProviderAddr string

	// How topups get confirmed: immediate or webhook
	ConfirmMode string

	// Topup bounds in minor units
	MinTopupAmount int64
	MaxTopupAmount int64
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		Environment:    defaultEnvironment,
		ConfirmMode:    defaultConfirmMode,
		MinTopupAmount: ledger.DefaultMinTopupAmount,
		MaxTopupAmount: ledger.DefaultMaxTopupAmount,
	}
}

// Load variable from '.env' file (should be located at working directory)
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
	setInt64 := func(o *int64) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"SECRET_KEY":         setString(&c.SecretKey),
		"WEBHOOK_SECRET":     setString(&c.WebhookSecret),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"REDIS_URL":          setString(&c.RedisURL),
		"PROVIDER_ADDRESS":   setString(&c.ProviderAddr),
		"TOPUP_CONFIRM_MODE": setString(&c.ConfirmMode),
		"MIN_TOPUP_AMOUNT":   setInt64(&c.MinTopupAmount),
		"MAX_TOPUP_AMOUNT":   setInt64(&c.MaxTopupAmount),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("walletapi", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to verify access tokens")
	fs.StringVarP(&c.WebhookSecret, "webhook-secret", "w", c.WebhookSecret, "Secret to verify provider webhooks")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.RedisURL, "redis", "R", c.RedisURL, "Redis url to publish wallet events")
	fs.StringVarP(&c.ProviderAddr, "provider", "p", c.ProviderAddr, "Payment provider gateway address")
	fs.StringVarP(&c.ConfirmMode, "confirm-mode", "m", c.ConfirmMode, "Topup confirmation mode (immediate, webhook)")
	fs.Int64Var(&c.MinTopupAmount, "min-topup", c.MinTopupAmount, "Minimal topup amount in minor units")
	fs.Int64Var(&c.MaxTopupAmount, "max-topup", c.MaxTopupAmount, "Maximal topup amount in minor units")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	switch {
	case c.SecretKey == "":
		return errors.New("secret key is required")
	case c.DatabaseDSN == "":
		return errors.New("database dsn is required")
	case c.ConfirmMode != ConfirmImmediate && c.ConfirmMode != ConfirmWebhook:
		return fmt.Errorf("unknown confirm mode %q", c.ConfirmMode)
	case c.ConfirmMode == ConfirmWebhook && c.WebhookSecret == "":
		return errors.New("webhook secret is required in webhook confirm mode")
	case c.MinTopupAmount <= 0:
		return errors.New("min topup amount must be positive")
	case c.MaxTopupAmount < c.MinTopupAmount:
		return fmt.Errorf("max topup amount %d is less than min %d", c.MaxTopupAmount, c.MinTopupAmount)
	}
	return nil
}
