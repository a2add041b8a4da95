package negotiation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

// State is the lifecycle state of a negotiation session.
type State string

const (
	StatePending          State = "pending"
	StatePricing          State = "pricing"
	StatePriced           State = "priced"
	StateNegotiating      State = "negotiating"
	StateAccepted         State = "accepted"
	StateRejected         State = "rejected"
	StateMaxRoundsReached State = "max_rounds_reached"
	StateFinalized        State = "finalized"
)

// Terminal reports whether no further rounds may run. Finalized counts as terminal.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateMaxRoundsReached, StateFinalized:
		return true
	default:
		return false
	}
}

// Session is the in-memory state of one negotiation, keyed by quote ID.
// A committed Session is never mutated; the engine works on a clone.
type Session struct {
	ID        string
	State     State
	Round     int
	LastOffer *decimal.Decimal
	History   []model.Turn

	Buyer  *BuyerProfile
	Seller SellerProfile

	// Outcome is the terminal state the session had before it was finalized.
	Outcome     State
	FinalPrice  *decimal.Decimal
	StartedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
}

func newSession(id string, seller SellerProfile, now time.Time) *Session {
	return &Session{ID: id, State: StatePending, Seller: seller, StartedAt: now, UpdatedAt: now}
}

func (s *Session) clone() *Session {
	cp := *s
	cp.History = model.CloneTurns(s.History)
	if s.LastOffer != nil {
		cp.LastOffer = model.DecimalPtr(*s.LastOffer)
	}
	if s.FinalPrice != nil {
		cp.FinalPrice = model.DecimalPtr(*s.FinalPrice)
	}
	if s.Buyer != nil {
		b := *s.Buyer
		cp.Buyer = &b
	}
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		cp.FinalizedAt = &t
	}
	return &cp
}

func (s *Session) record(t model.Turn) {
	s.History = append(s.History, t)
}

// SessionSummary is the read-only view returned to callers.
type SessionSummary struct {
	QuoteID     string           `json:"quote_id"`
	State       State            `json:"state"`
	Outcome     State            `json:"outcome,omitempty"`
	Round       int              `json:"round"`
	LastOffer   *decimal.Decimal `json:"last_offer,omitempty"`
	FinalPrice  *decimal.Decimal `json:"final_price,omitempty"`
	Buyer       *BuyerProfile    `json:"buyer,omitempty"`
	Seller      SellerProfile    `json:"seller"`
	History     []model.Turn     `json:"history"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	FinalizedAt *time.Time       `json:"finalized_at,omitempty"`
}

// Summary returns a deep copy safe to hand outside the engine.
func (s *Session) Summary() SessionSummary {
	c := s.clone()
	history := c.History
	if history == nil {
		history = []model.Turn{}
	}
	return SessionSummary{
		QuoteID:     c.ID,
		State:       c.State,
		Outcome:     c.Outcome,
		Round:       c.Round,
		LastOffer:   c.LastOffer,
		FinalPrice:  c.FinalPrice,
		Buyer:       c.Buyer,
		Seller:      c.Seller,
		History:     history,
		StartedAt:   c.StartedAt,
		UpdatedAt:   c.UpdatedAt,
		FinalizedAt: c.FinalizedAt,
	}
}

// sessionFromQuote rebuilds a session from a persisted quote after a restart.
func sessionFromQuote(q *model.Quote, seller SellerProfile) *Session {
	s := newSession(q.ID, seller, q.CreatedAt)
	s.UpdatedAt = q.UpdatedAt
	s.History = model.CloneTurns(q.NegotiationLog)

	for _, t := range s.History {
		if t.Round > s.Round {
			s.Round = t.Round
		}
	}
	if p, ok := model.LastPrice(s.History, model.RoleSeller); ok {
		s.LastOffer = model.DecimalPtr(p)
	}

	switch q.Status {
	case model.QuoteStatusPending:
		s.State = StatePending
	case model.QuoteStatusPriced:
		s.State = StatePriced
		if s.Round > 0 {
			s.State = StateNegotiating
		}
	case model.QuoteStatusAccepted, model.QuoteStatusPaid:
		s.State = StateAccepted
		if q.Price != nil {
			s.FinalPrice = model.DecimalPtr(*q.Price)
		}
	case model.QuoteStatusRejected:
		s.State = StateMaxRoundsReached
		if n := len(s.History); n > 0 && s.History[n-1].Action == model.ActionReject {
			s.State = StateRejected
		}
	}
	if q.FinalizedAt != nil && s.State.Terminal() {
		at := *q.FinalizedAt
		s.Outcome = s.State
		s.State = StateFinalized
		s.FinalizedAt = &at
	}
	return s
}
