// Package config содержит логику чтения конфигурации платёжного ядра витрины.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-payments/internal/fee"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	ShippoAPIKey  string `env:"SHIPPO_API_KEY"`
	ShippoBaseURL string `env:"SHIPPO_BASE_URL"`

	AuthSecret string `env:"AUTH_SECRET"`

	PlatformFeePercent    decimal.Decimal `env:"PLATFORM_FEE_PERCENT" envDefault:"7.1"`
	ShippingMarkup        decimal.Decimal `env:"SHIPPING_MARKUP" envDefault:"1.35"`
	ShippingMarginEnabled bool            `env:"SHIPPING_MARGIN_ENABLED" envDefault:"true"`
	DefaultCurrency       string          `env:"DEFAULT_CURRENCY" envDefault:"usd"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"storefront.events"`

	ClickHouseAddr     string `env:"CLICKHOUSE_ADDR"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUsername string `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if cfg.PlatformFeePercent.IsNegative() {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT must not be negative: %s", cfg.PlatformFeePercent)
	}
	if cfg.ShippingMarkup.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("SHIPPING_MARKUP must be at least 1: %s", cfg.ShippingMarkup)
	}

	return cfg, nil
}

// FeePolicy возвращает политику комиссии платформы.
func (c *Config) FeePolicy() fee.Policy {
	return fee.Policy{
		CommissionPercent:     c.PlatformFeePercent,
		ShippingMarkup:        c.ShippingMarkup,
		CaptureShippingMargin: c.ShippingMarginEnabled,
	}
}
