package pricing

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/pkg/config"
)

// MarketCondition scales the seller's price before scarcity is applied.
type MarketCondition string

const (
	MarketNormal     MarketCondition = "normal"
	MarketHighDemand MarketCondition = "high_demand"
	MarketLowDemand  MarketCondition = "low_demand"
)

// Multiplier returns the price multiplier for the condition; unknown conditions are neutral.
func (m MarketCondition) Multiplier() decimal.Decimal {
	switch m {
	case MarketHighDemand:
		return decimal.RequireFromString("1.2")
	case MarketLowDemand:
		return decimal.RequireFromString("0.9")
	default:
		return decimal.NewFromInt(1)
	}
}

// ScarcityProvider reports resource utilization in [0, 1].
type ScarcityProvider interface {
	Scarcity(ctx context.Context, resourceType string) (float64, error)
}

// Params are the tunables of the seller's price model.
type Params struct {
	HourlyRates     map[string]decimal.Decimal
	DefaultRate     decimal.Decimal
	DefaultScarcity float64
	ScarcitySlope   float64
	ScarcityCap     float64
	PremiumMin      float64
	PremiumMax      float64
	MaxMultiple     float64
}

// DefaultParams mirrors config defaults.
func DefaultParams() Params {
	return Params{
		HourlyRates:     config.DefaultHourlyRates(),
		DefaultRate:     decimal.NewFromInt(1),
		DefaultScarcity: 0.7,
		ScarcitySlope:   1.5,
		ScarcityCap:     0.30,
		PremiumMin:      0.05,
		PremiumMax:      0.15,
		MaxMultiple:     1.5,
	}
}

func ParamsFromConfig(c config.PricingConfig) Params {
	return Params{
		HourlyRates:     c.HourlyRates,
		DefaultRate:     c.DefaultRate,
		DefaultScarcity: c.DefaultScarcity,
		ScarcitySlope:   c.ScarcitySlope,
		ScarcityCap:     c.ScarcityCap,
		PremiumMin:      c.PremiumMin,
		PremiumMax:      c.PremiumMax,
		MaxMultiple:     c.MaxMultiple,
	}
}

var scarcityThresholds = map[string]float64{
	"GPU": 0.80,
	"TPU": 0.75,
	"CPU": 0.90,
}

const defaultScarcityThreshold = 0.85

// ScarcityThreshold is the utilization above which a resource earns a premium.
func ScarcityThreshold(resourceType string) float64 {
	if t, ok := scarcityThresholds[strings.ToUpper(resourceType)]; ok {
		return t
	}
	return defaultScarcityThreshold
}

// DurationDiscount is the fraction taken off long rentals. Non-increasing in price.
func DurationDiscount(hours int) decimal.Decimal {
	switch {
	case hours >= 168:
		return decimal.RequireFromString("0.10")
	case hours >= 24:
		return decimal.RequireFromString("0.05")
	default:
		return decimal.Zero
	}
}

// SellerPricing computes base costs and opening prices.
type SellerPricing struct {
	params   Params
	scarcity ScarcityProvider
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSellerPricing builds the model. A nil rng is seeded from the clock;
// inject a seeded one for reproducible opening premiums.
func NewSellerPricing(p Params, scarcity ScarcityProvider, rng *rand.Rand, logger *zap.Logger) *SellerPricing {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.DefaultRate.IsZero() {
		p.DefaultRate = decimal.NewFromInt(1)
	}
	if p.MaxMultiple <= 0 {
		p.MaxMultiple = 1.5
	}
	return &SellerPricing{params: p, scarcity: scarcity, rng: rng, logger: logger}
}

// Rate returns the hourly rate for resourceType; unknown types get the default.
func (s *SellerPricing) Rate(resourceType string) decimal.Decimal {
	if r, ok := s.params.HourlyRates[strings.ToUpper(resourceType)]; ok {
		return r
	}
	return s.params.DefaultRate
}

// BaseCost is rate × hours less the duration discount, with no market,
// scarcity or premium adjustments.
func (s *SellerPricing) BaseCost(resourceType string, durationHours int) decimal.Decimal {
	gross := s.Rate(resourceType).Mul(decimal.NewFromInt(int64(durationHours)))
	return Round(gross.Mul(decimal.NewFromInt(1).Sub(DurationDiscount(durationHours))))
}

// ScarcityPremium is the fractional uplift for a utilization level.
func (s *SellerPricing) ScarcityPremium(resourceType string, scarcity float64) decimal.Decimal {
	excess := scarcity - ScarcityThreshold(resourceType)
	if excess <= 0 {
		return decimal.Zero
	}
	premium := excess * s.params.ScarcitySlope
	if premium > s.params.ScarcityCap {
		premium = s.params.ScarcityCap
	}
	return decimal.NewFromFloat(premium)
}

func (s *SellerPricing) currentScarcity(ctx context.Context, resourceType string) float64 {
	if s.scarcity == nil {
		return s.params.DefaultScarcity
	}
	v, err := s.scarcity.Scarcity(ctx, resourceType)
	if err != nil {
		s.logger.Warn("pricing.scarcity_lookup_failed",
			zap.String("resource_type", resourceType),
			zap.Float64("fallback", s.params.DefaultScarcity),
			zap.Error(err))
		return s.params.DefaultScarcity
	}
	return v
}

func (s *SellerPricing) openingPremium() decimal.Decimal {
	s.mu.Lock()
	f := s.rng.Float64()
	s.mu.Unlock()
	return decimal.NewFromFloat(s.params.PremiumMin + f*(s.params.PremiumMax-s.params.PremiumMin))
}

// BasePrice is the seller's asking price before any negotiation. The result
// never exceeds MaxMultiple × the undiscounted base.
func (s *SellerPricing) BasePrice(ctx context.Context, resourceType string, durationHours int, market MarketCondition) decimal.Decimal {
	one := decimal.NewFromInt(1)
	base := s.Rate(resourceType).Mul(decimal.NewFromInt(int64(durationHours)))

	price := base.Mul(market.Multiplier())
	price = price.Mul(one.Add(s.ScarcityPremium(resourceType, s.currentScarcity(ctx, resourceType))))
	price = price.Mul(one.Sub(DurationDiscount(durationHours)))
	price = price.Mul(one.Add(s.openingPremium()))

	if limit := base.Mul(decimal.NewFromFloat(s.params.MaxMultiple)); price.GreaterThan(limit) {
		price = limit
	}
	return Round(price)
}
