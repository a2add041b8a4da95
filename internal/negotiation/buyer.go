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

// BuyerInput is what the buyer sees when deciding.
type BuyerInput struct {
	QuoteID     string
	SellerPrice decimal.Decimal
	// Round is the number of completed rounds.
	Round   int
	History []model.Turn
}

// BuyerPolicy decides the buyer's response to a seller price.
type BuyerPolicy struct {
	profile  BuyerProfile
	rules    config.NegotiationConfig
	oracle   oracle.Oracle
	fallback MiddleGround
	logger   *zap.Logger
}

func NewBuyerPolicy(profile BuyerProfile, rules config.NegotiationConfig, o oracle.Oracle, logger *zap.Logger) *BuyerPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuyerPolicy{
		profile:  profile,
		rules:    rules,
		oracle:   o,
		fallback: MiddleGround{Factor: rules.ConvergenceFactor},
		logger:   logger,
	}
}

func (p *BuyerPolicy) Profile() BuyerProfile { return p.profile }

// emergencyAuthorized reports whether the buyer may reach past MaxWTP this round.
func (p *BuyerPolicy) emergencyAuthorized(round int) bool {
	return p.profile.Urgency >= p.rules.EmergencyUrgency && round >= p.rules.EmergencyMinRound
}

// Decide never fails: every path ends in an accept or a clamped counter,
// except at MinPrice where no lower counter exists and the buyer must accept or
// walk away. Rule accepts never exceed MaxWTP whatever the configured ratios.
func (p *BuyerPolicy) Decide(ctx context.Context, in BuyerInput) Decision {
	maxWTP := p.profile.MaxWTP
	price := in.SellerPrice
	withinBudget := price.LessThanOrEqual(maxWTP)

	if withinBudget && price.LessThanOrEqual(maxWTP.Mul(decimal.NewFromFloat(p.rules.EarlyAcceptRatio))) {
		return acceptDecision(fmt.Sprintf("price %s is well under budget", price.StringFixed(2)), SourceRule)
	}
	if withinBudget && in.Round >= p.rules.MinRoundsForLateAccept &&
		price.LessThanOrEqual(maxWTP.Mul(decimal.NewFromFloat(p.rules.LateAcceptRatio))) {
		return acceptDecision(fmt.Sprintf("price %s acceptable after %d rounds", price.StringFixed(2), in.Round), SourceRule)
	}

	emergency := p.emergencyAuthorized(in.Round)
	ceiling := maxWTP
	if emergency {
		ceiling = p.profile.EffectiveMax()
		if price.LessThanOrEqual(ceiling) {
			d := acceptDecision(fmt.Sprintf("urgent: accepting %s within flexible budget %s", price.StringFixed(2), ceiling.StringFixed(2)), SourceRule)
			d.Emergency = true
			return d
		}
	}

	if !pricing.BuyerCanCounter(price) {
		if price.LessThanOrEqual(ceiling) {
			return acceptDecision(fmt.Sprintf("price %s is the minimum price", price.StringFixed(2)), SourceRule)
		}
		return rejectDecision(fmt.Sprintf("no counter below %s fits budget %s", price.StringFixed(2), ceiling.StringFixed(2)), SourceRule)
	}

	reply, err := consult(ctx, p.oracle, oracle.BuildBuyerRequest(p.view(in)))
	if err != nil {
		p.logger.Warn("negotiation.buyer_oracle_failed",
			zap.String("quote_id", in.QuoteID),
			zap.Int("round", in.Round),
			zap.Error(err))
		return p.fallbackCounter(in, ceiling, "oracle_unavailable", SourceFallback)
	}

	switch r := reply.(type) {
	case oracle.Accept:
		if price.LessThanOrEqual(maxWTP) {
			return acceptDecision(oracle.ReasonOf(r), SourceOracle)
		}
		p.logger.Info("negotiation.buyer_accept_overridden",
			zap.String("quote_id", in.QuoteID),
			zap.String("seller_price", price.StringFixed(2)),
			zap.String("max_wtp", maxWTP.StringFixed(2)))
		return p.fallbackCounter(in, ceiling, "accept_above_budget", SourceOverride)

	case oracle.CounterOffer:
		counter := pricing.ClampCounter(pricing.SideBuyer, r.Price, price, ceiling)
		if prev, ok := model.LastPrice(in.History, model.RoleBuyer); ok && counter.LessThan(prev) {
			counter = prev
		}
		return counterDecision(counter, r.Reason, SourceOracle)

	default:
		// The buyer never walks away; a reject becomes a deterministic counter.
		return p.fallbackCounter(in, ceiling, "oracle_reject", SourceFallback)
	}
}

func (p *BuyerPolicy) fallbackCounter(in BuyerInput, ceiling decimal.Decimal, why string, src Source) Decision {
	metrics.IncFallback(string(model.RoleBuyer), why)

	prev, ok := model.LastPrice(in.History, model.RoleBuyer)
	var counter decimal.Decimal
	if ok {
		counter = p.fallback.Next(pricing.SideBuyer, prev, in.SellerPrice, ceiling, p.profile.urgencyStep())
		if counter.LessThan(prev) {
			counter = prev
		}
	} else {
		counter = pricing.ClampCounter(pricing.SideBuyer,
			BuyerSeed(in.SellerPrice, p.profile.Strategy, p.profile.Urgency), in.SellerPrice, ceiling)
	}

	reason := fmt.Sprintf("middle-ground counter (%s)", why)
	if src == SourceOverride {
		reason = fmt.Sprintf("oracle accepted %s above budget %s; countered instead",
			in.SellerPrice.StringFixed(2), p.profile.MaxWTP.StringFixed(2))
	}
	return counterDecision(counter, reason, src)
}
