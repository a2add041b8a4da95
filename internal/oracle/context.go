package oracle

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

const historyWindow = 10

// BuyerView is everything the buyer's oracle is told about the negotiation.
type BuyerView struct {
	QuoteID      string
	Round        int
	SellerPrice  decimal.Decimal
	MaxWTP       decimal.Decimal
	EffectiveMax decimal.Decimal
	Urgency      float64
	Strategy     string
	History      []model.Turn
	// SuggestedOpening is set when the buyer has not offered yet.
	SuggestedOpening *decimal.Decimal
}

// SellerView is everything the seller's oracle is told.
type SellerView struct {
	QuoteID       string
	Round         int
	ResourceType  string
	DurationHours int
	BuyerPrice    decimal.Decimal
	BaseCost      decimal.Decimal
	Floor         decimal.Decimal
	MinMargin     float64
	MaxDiscount   float64
	Market        string
	Strategy      string
	History       []model.Turn
}

// Movement summarizes how party has moved across its last two offers.
func Movement(party model.Role, history []model.Turn) string {
	who := strings.ToUpper(string(party))
	prices := model.PricesBy(history, party)
	switch len(prices) {
	case 0:
		return fmt.Sprintf("%s HAS NOT MADE AN OFFER YET", who)
	case 1:
		return fmt.Sprintf("%s OPENED AT %s", who, prices[0].StringFixed(2))
	}

	prev, last := prices[len(prices)-2], prices[len(prices)-1]
	toward := last.LessThan(prev)
	if party == model.RoleBuyer {
		toward = last.GreaterThan(prev)
	}
	switch {
	case last.Equal(prev):
		return fmt.Sprintf("%s IS HOLDING FIRM at %s", who, last.StringFixed(2))
	case toward:
		return fmt.Sprintf("%s IS COMPROMISING: %s -> %s", who, prev.StringFixed(2), last.StringFixed(2))
	default:
		return fmt.Sprintf("%s IS ESCALATING: %s -> %s", who, prev.StringFixed(2), last.StringFixed(2))
	}
}

// FormatHistory renders the most recent turns as a bullet list.
func FormatHistory(history []model.Turn) string {
	if len(history) == 0 {
		return "- (no offers yet)"
	}
	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	var b strings.Builder
	for i, t := range history[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		price := "-"
		if t.Price != nil {
			price = t.Price.StringFixed(2)
		}
		fmt.Fprintf(&b, "- %s (round %d): %s %s", t.Role, t.Round, t.Action, price)
	}
	return b.String()
}

func BuildBuyerRequest(v BuyerView) Request {
	var b strings.Builder
	b.WriteString("You are the BUYER negotiating compute capacity.\n\n")
	b.WriteString("NEGOTIATION HISTORY\n")
	b.WriteString(FormatHistory(v.History))
	b.WriteString("\n\n")
	b.WriteString(Movement(model.RoleSeller, v.History))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "CURRENT SELLER PRICE: %s\n", v.SellerPrice.StringFixed(2))
	fmt.Fprintf(&b, "YOUR BUDGET: max %s, urgency %.2f, strategy %s\n", v.MaxWTP.StringFixed(2), v.Urgency, v.Strategy)
	if v.SuggestedOpening != nil {
		fmt.Fprintf(&b, "SUGGESTED FIRST OFFER: %s\n", v.SuggestedOpening.StringFixed(2))
	}
	b.WriteString("\nSTRATEGIC GUIDANCE: never offer above your budget; move toward the seller gradually.\n")
	b.WriteString(`Respond ONLY with JSON: {"action": "accept"|"counter_offer", "price": number|null, "reason": string}`)

	sc := map[string]any{
		"round":         v.Round,
		"seller_price":  v.SellerPrice.StringFixed(2),
		"max_wtp":       v.MaxWTP.StringFixed(2),
		"effective_max": v.EffectiveMax.StringFixed(2),
		"urgency":       v.Urgency,
		"strategy":      v.Strategy,
	}
	if last, ok := model.LastPrice(v.History, model.RoleBuyer); ok {
		sc["last_buyer_offer"] = last.StringFixed(2)
	}

	return Request{
		Role:              RoleBuyer,
		QuoteID:           v.QuoteID,
		Round:             v.Round,
		SystemContext:     b.String(),
		StructuredContext: sc,
	}
}

func BuildSellerRequest(v SellerView) Request {
	var b strings.Builder
	b.WriteString("You are the SELLER of compute capacity.\n\n")
	b.WriteString("NEGOTIATION HISTORY\n")
	b.WriteString(FormatHistory(v.History))
	b.WriteString("\n\n")
	b.WriteString(Movement(model.RoleBuyer, v.History))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "BUYER OFFER: %s for %s x %dh\n", v.BuyerPrice.StringFixed(2), v.ResourceType, v.DurationHours)
	b.WriteString("\nYOUR COSTS & MARGINS\n")
	fmt.Fprintf(&b, "- base cost: %s\n", v.BaseCost.StringFixed(2))
	fmt.Fprintf(&b, "- minimum margin: %.0f%% (floor %s)\n", v.MinMargin*100, v.Floor.StringFixed(2))
	fmt.Fprintf(&b, "- max discount: %.0f%%, market: %s, strategy: %s\n", v.MaxDiscount*100, v.Market, v.Strategy)
	b.WriteString("\n")
	b.WriteString(`Respond ONLY with JSON: {"action": "accept"|"counter_offer"|"reject", "price": number|null, "reason": string}`)

	sc := map[string]any{
		"round":          v.Round,
		"resource_type":  v.ResourceType,
		"duration_hours": v.DurationHours,
		"buyer_price":    v.BuyerPrice.StringFixed(2),
		"base_cost":      v.BaseCost.StringFixed(2),
		"floor":          v.Floor.StringFixed(2),
		"market":         v.Market,
	}
	if last, ok := model.LastPrice(v.History, model.RoleSeller); ok {
		sc["last_seller_offer"] = last.StringFixed(2)
	}

	return Request{
		Role:              RoleSeller,
		QuoteID:           v.QuoteID,
		Round:             v.Round,
		SystemContext:     b.String(),
		StructuredContext: sc,
	}
}
