package negotiation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/internal/oracle"
	"github.com/Checker-Finance/compute-market/internal/pricing"
	"github.com/Checker-Finance/compute-market/pkg/config"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

// SellerInput is what the seller sees when deciding.
type SellerInput struct {
	QuoteID       string
	ResourceType  string
	DurationHours int
	BuyerPrice    decimal.Decimal
	Round         int
	History       []model.Turn
}

// SellerPolicy decides the seller's response to a buyer counter and sets the opening quote.
type SellerPolicy struct {
	profile  SellerProfile
	rules    config.NegotiationConfig
	pricing  *pricing.SellerPricing
	oracle   oracle.Oracle
	fallback MiddleGround
	logger   *zap.Logger
}

func NewSellerPolicy(profile SellerProfile, rules config.NegotiationConfig, sp *pricing.SellerPricing, o oracle.Oracle, logger *zap.Logger) *SellerPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SellerPolicy{
		profile:  profile,
		rules:    rules,
		pricing:  sp,
		oracle:   o,
		fallback: MiddleGround{Factor: rules.ConvergenceFactor},
		logger:   logger,
	}
}

func (p *SellerPolicy) Profile() SellerProfile { return p.profile }

// Floor is BaseCost × (1 + MinMargin), rounded up to the cent.
func (p *SellerPolicy) Floor(resourceType string, durationHours int) decimal.Decimal {
	base := p.pricing.BaseCost(resourceType, durationHours)
	return pricing.CeilCent(base.Mul(decimal.NewFromFloat(1 + p.profile.MinMargin)))
}

// OpeningQuote is the seller's first price. It never sits below the floor.
func (p *SellerPolicy) OpeningQuote(ctx context.Context, q *model.Quote) decimal.Decimal {
	price := p.pricing.BasePrice(ctx, q.ResourceType, q.DurationHours, p.profile.Market)
	return decimal.Max(price, p.Floor(q.ResourceType, q.DurationHours))
}

// acceptable reports whether the seller may accept price this round.
func (p *SellerPolicy) acceptable(price, floor decimal.Decimal, round int) (bool, string) {
	if price.GreaterThanOrEqual(floor) {
		return true, fmt.Sprintf("offer %s meets floor %s", price.StringFixed(2), floor.StringFixed(2))
	}
	grace := floor.Mul(decimal.NewFromFloat(p.rules.NearMissRatio))
	if round >= p.rules.NearMissMinRound && price.GreaterThanOrEqual(grace) {
		return true, fmt.Sprintf("near miss: %s within grace band of floor %s", price.StringFixed(2), floor.StringFixed(2))
	}
	return false, ""
}

// Decide accepts, rejects, or returns a counter strictly above the buyer's
// offer and never below the floor. Fallback paths never reject.
func (p *SellerPolicy) Decide(ctx context.Context, in SellerInput) Decision {
	baseCost := p.pricing.BaseCost(in.ResourceType, in.DurationHours)
	floor := p.Floor(in.ResourceType, in.DurationHours)

	if ok, reason := p.acceptable(in.BuyerPrice, floor, in.Round); ok {
		return acceptDecision(reason, SourceRule)
	}

	if in.BuyerPrice.LessThan(baseCost.Mul(decimal.NewFromFloat(p.rules.OracleSkipRatio))) {
		return p.fallbackCounter(in, floor, "lowball", SourceFallback)
	}

	reply, err := consult(ctx, p.oracle, oracle.BuildSellerRequest(p.view(in, baseCost, floor)))
	if err != nil {
		p.logger.Warn("negotiation.seller_oracle_failed",
			zap.String("quote_id", in.QuoteID),
			zap.Int("round", in.Round),
			zap.Error(err))
		return p.fallbackCounter(in, floor, "oracle_unavailable", SourceFallback)
	}

	switch r := reply.(type) {
	case oracle.Accept:
		if ok, _ := p.acceptable(in.BuyerPrice, floor, in.Round); ok {
			return acceptDecision(oracle.ReasonOf(r), SourceOracle)
		}
		p.logger.Info("negotiation.seller_accept_overridden",
			zap.String("quote_id", in.QuoteID),
			zap.String("buyer_price", in.BuyerPrice.StringFixed(2)),
			zap.String("floor", floor.StringFixed(2)))
		return p.fallbackCounter(in, floor, "accept_below_floor", SourceOverride)

	case oracle.CounterOffer:
		counter := pricing.ClampCounter(pricing.SideSeller, r.Price, in.BuyerPrice, floor)
		if prev, ok := model.LastPrice(in.History, model.RoleSeller); ok && counter.GreaterThan(prev) {
			counter = prev
		}
		return counterDecision(counter, r.Reason, SourceOracle)

	case oracle.Reject:
		reason := oracle.ReasonOf(r)
		if reason == "" {
			reason = "seller declined"
		}
		return rejectDecision(reason, SourceOracle)

	default:
		return p.fallbackCounter(in, floor, "oracle_unknown_reply", SourceFallback)
	}
}

func (p *SellerPolicy) fallbackCounter(in SellerInput, floor decimal.Decimal, why string, src Source) Decision {
	metrics.IncFallback(string(model.RoleSeller), why)

	prev, ok := model.LastPrice(in.History, model.RoleSeller)
	var counter decimal.Decimal
	if ok {
		counter = p.fallback.Next(pricing.SideSeller, prev, in.BuyerPrice, floor, p.profile.Strategy.sellerStep())
		if counter.GreaterThan(prev) {
			counter = prev
		}
	} else {
		counter = pricing.ClampCounter(pricing.SideSeller, SellerSeed(in.BuyerPrice, p.profile.Strategy), in.BuyerPrice, floor)
	}

	reason := fmt.Sprintf("middle-ground counter (%s)", why)
	if src == SourceOverride {
		reason = fmt.Sprintf("oracle accepted %s below floor %s; countered instead",
			in.BuyerPrice.StringFixed(2), floor.StringFixed(2))
	}
	return counterDecision(counter, reason, src)
}
