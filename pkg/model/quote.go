package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus is the persisted lifecycle status of a quote.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "pending"
	QuoteStatusPriced   QuoteStatus = "priced"
	QuoteStatusAccepted QuoteStatus = "accepted"
	QuoteStatusRejected QuoteStatus = "rejected"
	QuoteStatusPaid     QuoteStatus = "paid"
)

// Valid returns true if the status is one of the known constants.
func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteStatusPending,
		QuoteStatusPriced,
		QuoteStatusAccepted,
		QuoteStatusRejected,
		QuoteStatusPaid:
		return true
	default:
		return false
	}
}

func (s QuoteStatus) String() string {
	return string(s)
}

// Quote is a buyer's request for compute capacity and the price it converged on.
// NegotiationLog is append-only; entries are never reordered or edited.
type Quote struct {
	ID             string           `json:"id"`
	BuyerID        string           `json:"buyer_id"`
	ResourceType   string           `json:"resource_type"`
	DurationHours  int              `json:"duration_hours"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	BuyerMaxPrice  decimal.Decimal  `json:"buyer_max_price"`
	Status         QuoteStatus      `json:"status"`
	NegotiationLog []Turn           `json:"negotiation_log"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	// FinalizedAt is set once the negotiation is closed out and never changes after.
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate a draft without touching the original.
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	cp := *q
	if q.Price != nil {
		p := *q.Price
		cp.Price = &p
	}
	if q.FinalizedAt != nil {
		f := *q.FinalizedAt
		cp.FinalizedAt = &f
	}
	cp.NegotiationLog = CloneTurns(q.NegotiationLog)
	return &cp
}
