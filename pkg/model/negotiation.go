package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies which party produced a negotiation turn.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Action is the kind of move a party made in a turn.
type Action string

const (
	ActionInitialQuote Action = "initial_quote"
	ActionCounterOffer Action = "counter_offer"
	ActionAccept       Action = "accept"
	ActionReject       Action = "reject"
)

// Turn is a single entry of a negotiation transcript.
// Price is nil for accept and reject turns.
type Turn struct {
	Role      Role             `json:"role"`
	Action    Action           `json:"action"`
	Price     *decimal.Decimal `json:"price"`
	Reason    string           `json:"reason,omitempty"`
	Round     int              `json:"round"`
	Timestamp time.Time        `json:"timestamp"`
}

// CloneTurns returns a deep copy of a transcript.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		if t.Price != nil {
			p := *t.Price
			out[i].Price = &p
		}
	}
	return out
}

// LastPrice returns the most recent priced turn made by role.
func LastPrice(turns []Turn, role Role) (decimal.Decimal, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == role && turns[i].Price != nil {
			return *turns[i].Price, true
		}
	}
	return decimal.Zero, false
}

// PricesBy returns every offered price made by role, oldest first.
func PricesBy(turns []Turn, role Role) []decimal.Decimal {
	var out []decimal.Decimal
	for _, t := range turns {
		if t.Role == role && t.Price != nil {
			out = append(out, *t.Price)
		}
	}
	return out
}

// DecimalPtr is a small helper for optional price fields.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
