package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "market-negotiator", cfg.ServiceName)
	assert.Equal(t, 9020, cfg.Port)
	assert.Equal(t, 4, cfg.Negotiation.DefaultMaxTurns)
	assert.Equal(t, 20, cfg.Negotiation.HardMaxTurns)
	assert.InDelta(t, 0.6, cfg.Negotiation.EarlyAcceptRatio, 1e-9)
	assert.InDelta(t, 0.05, cfg.Negotiation.MinMargin, 1e-9)
	assert.Equal(t, 7*24*time.Hour, cfg.QuoteTTL)
	assert.Equal(t, []string{"stripe", "paypal"}, cfg.PaymentProviders)
	assert.True(t, cfg.Pricing.HourlyRates["GPU"].Equal(decimal.RequireFromString("2.50")))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("NEGOTIATION_MAX_TURNS", "6")
	t.Setenv("SELLER_MIN_MARGIN", "0.1")
	t.Setenv("ORACLE_TIMEOUT", "750ms")
	t.Setenv("COMMANDS_ENABLED", "false")
	t.Setenv("PAYMENT_PROVIDERS", " Stripe, ,Adyen ")
	t.Setenv("PRICING_HOURLY_RATES", "gpu=20,cpu=bogus,tpu=-1")

	cfg := Load()

	assert.Equal(t, 8088, cfg.Port)
	assert.Equal(t, 6, cfg.Negotiation.DefaultMaxTurns)
	assert.InDelta(t, 0.1, cfg.Negotiation.MinMargin, 1e-9)
	assert.Equal(t, 750*time.Millisecond, cfg.OracleTimeout)
	assert.False(t, cfg.CommandsEnabled)
	assert.Equal(t, []string{"stripe", "adyen"}, cfg.PaymentProviders)
	assert.Len(t, cfg.Pricing.HourlyRates, 1)
	assert.True(t, cfg.Pricing.HourlyRates["GPU"].Equal(decimal.NewFromInt(20)))
}

func TestGetEnv_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_MAP", "garbage")

	assert.Equal(t, 3, GetEnvInt("X_INT", 3))
	assert.Equal(t, time.Second, GetEnvDuration("X_DUR", time.Second))
	def := DefaultHourlyRates()
	assert.Equal(t, def, GetEnvDecimalMap("X_MAP", def))
	assert.Nil(t, splitList(" , "))
}

func TestLoad_OutOfRangeNegotiationFallsBack(t *testing.T) {
	t.Setenv("BUYER_LATE_ACCEPT_RATIO", "1.2")
	t.Setenv("BUYER_EARLY_ACCEPT_RATIO", "-0.5")
	t.Setenv("SELLER_NEAR_MISS_RATIO", "NaN")
	t.Setenv("BUYER_DEFAULT_URGENCY", "3")
	t.Setenv("SELLER_MAX_DISCOUNT", "1")
	t.Setenv("SELLER_MIN_MARGIN", "-0.2")
	t.Setenv("NEGOTIATION_MAX_TURNS", "40")

	neg := Load().Negotiation

	assert.InDelta(t, 0.95, neg.LateAcceptRatio, 1e-9)
	assert.InDelta(t, 0.6, neg.EarlyAcceptRatio, 1e-9)
	assert.InDelta(t, 0.95, neg.NearMissRatio, 1e-9)
	assert.InDelta(t, 0.7, neg.DefaultUrgency, 1e-9)
	assert.InDelta(t, 0.40, neg.MaxDiscount, 1e-9)
	assert.InDelta(t, 0.05, neg.MinMargin, 1e-9)
	assert.Equal(t, 20, neg.DefaultMaxTurns)
}

func TestNegotiationConfig_SanitizedKeepsValidValues(t *testing.T) {
	c := DefaultNegotiationConfig()
	c.LateAcceptRatio = 1
	c.EmergencyUrgency = 0
	c.MinMargin = 0.25
	assert.Equal(t, c, c.Sanitized())

	zero := NegotiationConfig{}.Sanitized()
	assert.Equal(t, 4, zero.DefaultMaxTurns)
	assert.Equal(t, 20, zero.HardMaxTurns)
	assert.InDelta(t, 0.6, zero.EarlyAcceptRatio, 1e-9)
	assert.InDelta(t, 0.5, zero.ConvergenceFactor, 1e-9)
}
