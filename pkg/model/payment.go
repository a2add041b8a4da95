package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionSucceeded TransactionStatus = "succeeded"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction records a payment capture attempt against an accepted quote.
type Transaction struct {
	ID         string            `json:"id"`
	QuoteID    string            `json:"quote_id"`
	Provider   string            `json:"provider"`
	ProviderID string            `json:"provider_id,omitempty"`
	Amount     decimal.Decimal   `json:"amount"`
	Status     TransactionStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

type ReservationStatus string

const (
	ReservationActive  ReservationStatus = "active"
	ReservationExpired ReservationStatus = "expired"
)

// Reservation holds compute units for a paid quote until ExpiresAt.
type Reservation struct {
	QuoteID      string            `json:"quote_id"`
	ResourceType string            `json:"resource_type"`
	Units        int               `json:"units"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Status       ReservationStatus `json:"status"`
}

// Expired reports whether the reservation has lapsed at now.
func (r Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
