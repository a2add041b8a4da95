package negotiation

import (
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/internal/pricing"
)

const (
	minStep = 0.05
	maxStep = 0.95
)

// MiddleGround is the deterministic counter used whenever the oracle cannot
// be trusted. Each call moves the party a fraction of the way toward the
// opposing price, so the gap between the two sides never grows.
type MiddleGround struct {
	Factor float64
}

// Step returns Factor × multiplier bounded to (0, 1).
func (m MiddleGround) Step(multiplier float64) decimal.Decimal {
	f := m.Factor
	if f <= 0 {
		f = 0.5
	}
	s := f * multiplier
	if s < minStep {
		s = minStep
	}
	if s > maxStep {
		s = maxStep
	}
	return decimal.NewFromFloat(s)
}

// Next moves prevOwn toward opposing and clamps the result for side.
// bound is the ceiling for the buyer and the floor for the seller.
func (m MiddleGround) Next(side pricing.Side, prevOwn, opposing, bound decimal.Decimal, multiplier float64) decimal.Decimal {
	next := prevOwn.Add(opposing.Sub(prevOwn).Mul(m.Step(multiplier)))
	return pricing.ClampCounter(side, next, opposing, bound)
}

// BuyerSeed is the buyer's first offer when it has none yet.
func BuyerSeed(opposing decimal.Decimal, strategy Strategy, urgency float64) decimal.Decimal {
	f := (1 - strategy.openingOffset()) * (1 + (urgency-0.7)*0.1)
	return pricing.Round(opposing.Mul(decimal.NewFromFloat(f)))
}

// SellerSeed is the seller's first counter when it never quoted.
func SellerSeed(opposing decimal.Decimal, strategy Strategy) decimal.Decimal {
	return pricing.Round(opposing.Mul(decimal.NewFromFloat(1 + strategy.openingOffset())))
}
