package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

// CreateQuoteRequest is the body of POST /api/v1/quotes.
type CreateQuoteRequest struct {
	BuyerID       string          `json:"buyer_id"`
	ResourceType  string          `json:"resource_type"`
	DurationHours int             `json:"duration_hours"`
	BuyerMaxPrice decimal.Decimal `json:"buyer_max_price"`
}

func (r CreateQuoteRequest) Validate() error {
	if strings.TrimSpace(r.ResourceType) == "" {
		return fmt.Errorf("resource_type is required")
	}
	if r.DurationHours <= 0 {
		return fmt.Errorf("duration_hours must be greater than 0")
	}
	if !r.BuyerMaxPrice.IsPositive() {
		return fmt.Errorf("buyer_max_price must be greater than 0")
	}
	return nil
}

func (r CreateQuoteRequest) toNewQuote() negotiation.NewQuote {
	return negotiation.NewQuote{
		BuyerID:       strings.TrimSpace(r.BuyerID),
		ResourceType:  strings.ToUpper(strings.TrimSpace(r.ResourceType)),
		DurationHours: r.DurationHours,
		BuyerMaxPrice: r.BuyerMaxPrice,
	}
}

// NegotiateRequest is the optional body of POST /api/v1/quotes/:id/negotiate.
type NegotiateRequest struct {
	MaxTurns int      `json:"max_turns"`
	Urgency  *float64 `json:"urgency"`
	Strategy string   `json:"strategy"`
}

func (r NegotiateRequest) Validate() error {
	if r.MaxTurns < 0 {
		return fmt.Errorf("max_turns must not be negative")
	}
	if r.Urgency != nil && (*r.Urgency < 0 || *r.Urgency > 1) {
		return fmt.Errorf("urgency must be between 0 and 1")
	}
	return nil
}

func (r NegotiateRequest) Options() negotiation.NegotiateOptions {
	return negotiation.NegotiateOptions{
		MaxTurns: r.MaxTurns,
		Urgency:  r.Urgency,
		Strategy: strings.ToLower(strings.TrimSpace(r.Strategy)),
	}
}

// PaymentRequest is the body of POST /api/v1/quotes/:id/payments.
type PaymentRequest struct {
	Provider string `json:"provider"`
}

func (r PaymentRequest) Validate() error {
	if strings.TrimSpace(r.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	return nil
}

// QuoteResponse is a quote together with its payment attempts.
type QuoteResponse struct {
	*model.Quote
	Transactions []model.Transaction `json:"transactions"`
}

// PaymentResponse reports a capture attempt. Error is set for a declined payment.
type PaymentResponse struct {
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Error       string             `json:"error,omitempty"`
}
