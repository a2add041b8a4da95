package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Reply is the closed set of oracle answers: Accept, CounterOffer or Reject.
type Reply interface {
	isReply()
}

type Accept struct {
	Reason string
}

type CounterOffer struct {
	Price  decimal.Decimal
	Reason string
}

type Reject struct {
	Reason string
}

func (Accept) isReply()       {}
func (CounterOffer) isReply() {}
func (Reject) isReply()       {}

// ReasonOf returns the free-text reason carried by any reply.
func ReasonOf(r Reply) string {
	switch v := r.(type) {
	case Accept:
		return v.Reason
	case CounterOffer:
		return v.Reason
	case Reject:
		return v.Reason
	default:
		return ""
	}
}

type wireReply struct {
	Action string          `json:"action"`
	Price  json.RawMessage `json:"price"`
	Reason *string         `json:"reason"`
}

// ParseReply normalizes a raw oracle body. It accepts the structured form
// {"action", "price", "reason"} as well as the legacy bodies "accept" and a
// bare number, which means a counter-offer at that price.
func ParseReply(raw []byte) (Reply, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidReply)
	}

	if body[0] == '{' {
		var w wireReply
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
		}
		reason := ""
		if w.Reason != nil {
			reason = strings.TrimSpace(*w.Reason)
		}

		switch strings.ToLower(strings.TrimSpace(w.Action)) {
		case "accept":
			return Accept{Reason: reason}, nil
		case "reject":
			return Reject{Reason: reason}, nil
		case "counter_offer", "counter":
			price, err := parsePrice(w.Price)
			if err != nil {
				return nil, err
			}
			return CounterOffer{Price: price, Reason: reason}, nil
		default:
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidReply, w.Action)
		}
	}

	legacy := strings.Trim(string(body), `"' `)
	if strings.EqualFold(legacy, "accept") {
		return Accept{}, nil
	}
	price, err := positive(legacy)
	if err != nil {
		return nil, err
	}
	return CounterOffer{Price: price}, nil
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, fmt.Errorf("%w: counter_offer without price", ErrInvalidReply)
	}
	return positive(strings.Trim(s, `"`))
}

// Oracle prices outside these bounds are rejected before any arithmetic.
const (
	maxPriceExponent = 12
	minPriceExponent = -18
)

var maxPrice = decimal.New(1, maxPriceExponent)

func positive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: non-numeric price %q", ErrInvalidReply, s)
	}
	if exp := d.Exponent(); exp > maxPriceExponent || exp < minPriceExponent {
		return decimal.Zero, fmt.Errorf("%w: price exponent %d out of range", ErrInvalidReply, exp)
	}
	if d.GreaterThan(maxPrice) {
		return decimal.Zero, fmt.Errorf("%w: price above %s", ErrInvalidReply, maxPrice)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrInvalidReply, d)
	}
	return d, nil
}
