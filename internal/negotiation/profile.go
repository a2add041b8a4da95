package negotiation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/internal/pricing"
	"github.com/Checker-Finance/compute-market/pkg/config"
)

// Strategy controls how fast a party concedes and how far from the other
// side it opens.
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyBalanced     Strategy = "balanced"
	StrategyConservative Strategy = "conservative"
)

// ParseStrategy accepts any casing; empty means balanced.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyBalanced, nil
	case StrategyAggressive, StrategyBalanced, StrategyConservative:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
	}
}

// openingOffset is how far from the opposing price a party opens.
func (s Strategy) openingOffset() float64 {
	switch s {
	case StrategyAggressive:
		return 0.30
	case StrategyConservative:
		return 0.10
	default:
		return 0.20
	}
}

// sellerStep scales the seller's concession speed. Aggressive sellers concede slowest.
func (s Strategy) sellerStep() float64 {
	switch s {
	case StrategyAggressive:
		return 0.7
	case StrategyConservative:
		return 1.3
	default:
		return 1.0
	}
}

// BuyerProfile holds the buyer's fixed constraints for one session.
type BuyerProfile struct {
	MaxWTP            decimal.Decimal `json:"max_wtp"`
	Urgency           float64         `json:"urgency"`
	Strategy          Strategy        `json:"strategy"`
	BudgetFlexibility float64         `json:"budget_flexibility"`
}

// NewBuyerProfile clamps urgency into [0, 1] and fills defaults from rules.
func NewBuyerProfile(maxWTP decimal.Decimal, urgency *float64, strategy Strategy, rules config.NegotiationConfig) BuyerProfile {
	u := rules.DefaultUrgency
	if urgency != nil {
		u = *urgency
	}
	switch {
	case u < 0:
		u = 0
	case u > 1:
		u = 1
	}
	if strategy == "" {
		strategy, _ = ParseStrategy(rules.DefaultStrategy)
		if strategy == "" {
			strategy = StrategyBalanced
		}
	}
	flex := rules.BudgetFlexibility
	if flex < 0 {
		flex = 0
	}
	return BuyerProfile{MaxWTP: maxWTP, Urgency: u, Strategy: strategy, BudgetFlexibility: flex}
}

// EffectiveMax is the emergency ceiling. It is never below MaxWTP.
func (b BuyerProfile) EffectiveMax() decimal.Decimal {
	return b.MaxWTP.Mul(decimal.NewFromFloat(1 + b.BudgetFlexibility))
}

// urgencyStep scales the buyer's concession speed; urgent buyers move faster.
func (b BuyerProfile) urgencyStep() float64 {
	return 1 + (b.Urgency-0.7)*0.5
}

// SellerProfile holds the seller's fixed constraints.
type SellerProfile struct {
	MinMargin   float64                 `json:"min_margin"`
	MaxDiscount float64                 `json:"max_discount"`
	Market      pricing.MarketCondition `json:"market_condition"`
	Strategy    Strategy                `json:"strategy"`
}

// SellerProfileFromConfig builds the seller profile from the configured constants.
func SellerProfileFromConfig(rules config.NegotiationConfig) SellerProfile {
	st, err := ParseStrategy(rules.SellerStrategy)
	if err != nil {
		st = StrategyBalanced
	}
	market := pricing.MarketCondition(strings.ToLower(rules.MarketCondition))
	if market == "" {
		market = pricing.MarketNormal
	}
	return SellerProfile{
		MinMargin:   rules.MinMargin,
		MaxDiscount: rules.MaxDiscount,
		Market:      market,
		Strategy:    st,
	}
}
