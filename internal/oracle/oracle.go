// Package oracle talks to the external pricing oracle that advises each party.
// The oracle is advisory only: every reply is validated and clamped by the
// negotiation policies, and any failure degrades to deterministic pricing.
package oracle

import (
	"context"
	"errors"
)

// Role is the party the oracle is advising.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

var (
	// ErrInvalidReply means the oracle answered but the answer was unusable.
	ErrInvalidReply = errors.New("invalid oracle reply")
	// ErrUnavailable means the oracle could not be reached in time.
	ErrUnavailable = errors.New("oracle unavailable")
)

// Request is what the oracle sees for one decision.
type Request struct {
	Role              Role           `json:"role"`
	QuoteID           string         `json:"quote_id"`
	Round             int            `json:"round"`
	SystemContext     string         `json:"system_context"`
	StructuredContext map[string]any `json:"structured_context"`
}

// Oracle proposes a move for one party.
type Oracle interface {
	Propose(ctx context.Context, req Request) (Reply, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (Reply, error)

func (f Func) Propose(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }

// Unavailable is an oracle that always fails; the engine then runs on fallbacks only.
type Unavailable struct{}

func (Unavailable) Propose(context.Context, Request) (Reply, error) { return nil, ErrUnavailable }
