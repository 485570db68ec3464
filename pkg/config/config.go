// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stellar-memory/stellar-auth/pkg/tier"
)

// Billing provider names accepted by BILLING_PROVIDER
const (
	ProviderLemonSqueezy = "lemonsqueezy"
	ProviderStripe       = "stripe"
	ProviderToss         = "toss"
)

var (
	// ErrMissingDatabaseURL is returned when DATABASE_URL is not set
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

	// ErrUnknownProvider is returned for an unsupported BILLING_PROVIDER
	ErrUnknownProvider = errors.New("unknown billing provider")
)

// Config is the full service configuration
type Config struct {
	DatabaseURL     string
	RedisURL        string
	BillingProvider string
	ServiceBaseURL  string
	ListenAddr      string
	LogLevel        string

	LemonSqueezy LemonSqueezy
	Stripe       Stripe
	Toss         Toss
}

// LemonSqueezy holds the merchant-of-record settings
type LemonSqueezy struct {
	APIKey        string
	WebhookSecret string
	StoreID       string
	VariantPro    string
	VariantTeam   string
}

// Variants returns the configured tier to variant mapping
func (c LemonSqueezy) Variants() map[tier.Tier]string {
	return nonEmpty(map[tier.Tier]string{tier.Pro: c.VariantPro, tier.Team: c.VariantTeam})
}

// Stripe holds the direct processor settings
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	PricePro      string
	PriceTeam     string
}

// Prices returns the configured tier to price mapping
func (c Stripe) Prices() map[tier.Tier]string {
	return nonEmpty(map[tier.Tier]string{tier.Pro: c.PricePro, tier.Team: c.PriceTeam})
}

// Toss holds the domestic provider settings
type Toss struct {
	SecretKey     string
	ClientKey     string
	WebhookSecret string
	AmountPro     int64
	AmountTeam    int64
}

// Amounts returns the configured tier to monthly KRW amount mapping
func (c Toss) Amounts() map[tier.Tier]int64 {
	out := make(map[tier.Tier]int64)
	if c.AmountPro > 0 {
		out[tier.Pro] = c.AmountPro
	}
	if c.AmountTeam > 0 {
		out[tier.Team] = c.AmountTeam
	}
	return out
}

func defaults(v *viper.Viper) {
	v.SetDefault("billing_provider", ProviderLemonSqueezy)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("service_base_url", "http://localhost:8080")
}

// Load reads configuration. Values come from the process environment first,
// then from the first readable file in envFiles (default ".env"), then defaults.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	v := viper.New()
	defaults(v)

	for _, file := range envFiles {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for key, value := range values {
			v.SetDefault(strings.ToLower(key), value)
		}
		break
	}

	v.AutomaticEnv()

	cfg := &Config{
		DatabaseURL:     v.GetString("database_url"),
		RedisURL:        v.GetString("redis_url"),
		BillingProvider: strings.ToLower(strings.TrimSpace(v.GetString("billing_provider"))),
		ServiceBaseURL:  strings.TrimRight(v.GetString("service_base_url"), "/"),
		ListenAddr:      v.GetString("listen_addr"),
		LogLevel:        v.GetString("log_level"),
		LemonSqueezy: LemonSqueezy{
			APIKey:        v.GetString("lemonsqueezy_api_key"),
			WebhookSecret: v.GetString("lemonsqueezy_webhook_secret"),
			StoreID:       v.GetString("lemonsqueezy_store_id"),
			VariantPro:    v.GetString("lemonsqueezy_variant_pro"),
			VariantTeam:   v.GetString("lemonsqueezy_variant_team"),
		},
		Stripe: Stripe{
			SecretKey:     v.GetString("stripe_secret_key"),
			WebhookSecret: v.GetString("stripe_webhook_secret"),
			PricePro:      v.GetString("stripe_price_pro"),
			PriceTeam:     v.GetString("stripe_price_team"),
		},
		Toss: Toss{
			SecretKey:     v.GetString("toss_secret_key"),
			ClientKey:     v.GetString("toss_client_key"),
			WebhookSecret: v.GetString("toss_webhook_secret"),
			AmountPro:     v.GetInt64("toss_amount_pro"),
			AmountTeam:    v.GetInt64("toss_amount_team"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	switch c.BillingProvider {
	case ProviderLemonSqueezy, ProviderStripe, ProviderToss:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.BillingProvider)
	}
	return nil
}

func nonEmpty(m map[tier.Tier]string) map[tier.Tier]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
