package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=labdesk port=5432 sslmode=disable"

type Config struct {
	ServiceName string
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string
	LogLevel    string
	RabbitMQURL string // empty disables event publishing

	PayPal PayPalConfig

	ReconcileInterval time.Duration // 0 disables the reconcile worker
	ReconcileGrace    time.Duration

	invalid []string // env values that could not be parsed
}

type PayPalConfig struct {
	Mode         string // "sandbox" or "live"
	ClientID     string
	ClientSecret string
	Currency     string
	BrandName    string
	BaseURL      string // overrides the mode-derived API host
	Timeout      time.Duration
}

func Load() *Config {
	var invalid []string
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "labdesk"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		PayPal: PayPalConfig{
			Mode:         strings.ToLower(strings.TrimSpace(getEnv("PAYPAL_MODE", "sandbox"))),
			ClientID:     strings.TrimSpace(getEnv("PAYPAL_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(getEnv("PAYPAL_CLIENT_SECRET", "")),
			Currency:     strings.ToUpper(strings.TrimSpace(getEnv("PAYPAL_CURRENCY", "MXN"))),
			BrandName:    getEnv("PAYPAL_BRAND_NAME", "Sistema de Control de Materiales"),
			BaseURL:      getEnv("PAYPAL_BASE_URL", ""),
			Timeout:      getDuration("PAYPAL_TIMEOUT", 15*time.Second, &invalid),
		},
		ReconcileInterval: getDuration("RECONCILE_INTERVAL", 10*time.Minute, &invalid),
		ReconcileGrace:    getDuration("RECONCILE_GRACE", 30*time.Minute, &invalid),
	}
	cfg.invalid = invalid
	return cfg
}

// Validate reports settings the server cannot start with, and returns
// warnings for defaults that are only fine for local development.
func (c *Config) Validate() (warnings []string, err error) {
	if len(c.invalid) > 0 {
		return nil, fmt.Errorf("invalid durations: %s", strings.Join(c.invalid, "; "))
	}
	if c.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	if len(c.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}
	if c.PayPal.Mode != "sandbox" && c.PayPal.Mode != "live" {
		return nil, fmt.Errorf("PAYPAL_MODE must be 'sandbox' or 'live', got %q", c.PayPal.Mode)
	}
	if len(c.PayPal.Currency) != 3 {
		return nil, fmt.Errorf("PAYPAL_CURRENCY must be a 3-letter code, got %q", c.PayPal.Currency)
	}
	if c.PayPal.Timeout <= 0 {
		return nil, errors.New("PAYPAL_TIMEOUT must be positive")
	}

	if c.DatabaseDSN == defaultDSN {
		warnings = append(warnings, "DATABASE_DSN uses the local default")
	}
	if c.CORSOrigins == "http://localhost:5173" {
		warnings = append(warnings, "CORS_ALLOWED_ORIGINS uses the local default")
	}
	if c.PayPal.ClientID == "" || c.PayPal.ClientSecret == "" {
		warnings = append(warnings, "PAYPAL_CLIENT_ID / PAYPAL_CLIENT_SECRET missing, fine payments disabled")
	}
	return warnings, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getDuration falls back to def on a malformed value and records it in
// invalid for Validate to report.
func getDuration(key string, def time.Duration, invalid *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*invalid = append(*invalid, fmt.Sprintf("%s=%q (use a unit, e.g. 30s or 10m)", key, v))
		return def
	}
	return d
}
