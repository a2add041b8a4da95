package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event wrapper published to the audit bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Context       Context         `json:"context,omitempty"`
}

type Context struct {
	QuoteID      string `json:"quote_id,omitempty"`
	BuyerID      string `json:"buyer_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
}

// Audit event types.
const (
	EventNegotiationRound     = "negotiation.round"
	EventNegotiationAccepted  = "negotiation.accepted"
	EventNegotiationRejected  = "negotiation.rejected"
	EventNegotiationMaxRounds = "negotiation.max_rounds_reached"
	EventNegotiationFinalized = "negotiation.finalized"
	EventQuotePriced          = "quote.priced"
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
	EventReservationExpired   = "reservation.expired"
)

// Event is a domain event before it is wrapped in an Envelope.
type Event struct {
	Type      string         `json:"type"`
	QuoteID   string         `json:"quote_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Topic returns the versioned subject an event type is published on.
func Topic(eventType string) string {
	return "evt." + eventType + ".v1"
}

// NewEnvelope wraps an event for publication.
func NewEnvelope(ev Event, ctx Context) (*Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: correlationFor(ev.QuoteID),
		Topic:         Topic(ev.Type),
		EventType:     ev.Type,
		Version:       "1.0.0",
		Timestamp:     ts,
		Payload:       data,
		Context:       ctx,
	}, nil
}

// correlationFor derives a stable correlation ID so every event for a quote groups together.
func correlationFor(quoteID string) uuid.UUID {
	if quoteID == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(quoteID))
}
