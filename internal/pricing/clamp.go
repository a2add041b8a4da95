// Package pricing holds the seller's deterministic price model and the
// clamp that keeps every counter-offer inside a party's bounds.
package pricing

import "github.com/shopspring/decimal"

// Side is the party a counter-offer is being clamped for.
type Side string

const (
	SideBuyer  Side = "buyer"
	SideSeller Side = "seller"
)

var (
	// MinPrice is the smallest price any offer may carry.
	MinPrice = decimal.RequireFromString("0.01")
	hundred  = decimal.NewFromInt(100)
)

// Round rounds a price to cents, half away from zero.
func Round(p decimal.Decimal) decimal.Decimal {
	return p.Round(2)
}

// FloorCent truncates toward negative infinity at the cent.
func FloorCent(p decimal.Decimal) decimal.Decimal {
	return p.Mul(hundred).Floor().Div(hundred)
}

// CeilCent rounds up to the next cent.
func CeilCent(p decimal.Decimal) decimal.Decimal {
	return p.Mul(hundred).Ceil().Div(hundred)
}

// ClampCounter forces a proposed counter-offer into the legal range for side.
//
// For the buyer the result is at least one cent below opposingLast and no
// higher than bound (the buyer's ceiling). For the seller it is at least one
// cent above opposingLast and no lower than bound (the seller's floor). Bounds
// are rounded inward so rounding never crosses them, and the result is never
// below MinPrice.
//
// The buyer side requires opposingLast > MinPrice; otherwise no legal counter
// exists and the MinPrice result is not below opposingLast. Callers check
// BuyerCanCounter first.
func ClampCounter(side Side, proposed, opposingLast, bound decimal.Decimal) decimal.Decimal {
	p := Round(proposed)

	switch side {
	case SideBuyer:
		limit := decimal.Min(FloorCent(bound), FloorCent(opposingLast.Sub(MinPrice)))
		if p.GreaterThan(limit) {
			p = limit
		}
	case SideSeller:
		limit := decimal.Max(CeilCent(bound), CeilCent(opposingLast.Add(MinPrice)))
		if p.LessThan(limit) {
			p = limit
		}
	}

	if p.LessThan(MinPrice) {
		p = MinPrice
	}
	return p
}

// BuyerCanCounter reports whether a buyer counter strictly below the seller's
// price can exist.
func BuyerCanCounter(sellerPrice decimal.Decimal) bool {
	return sellerPrice.GreaterThan(MinPrice)
}
