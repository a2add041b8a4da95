package negotiation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/internal/oracle"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

func (p *BuyerPolicy) view(in BuyerInput) oracle.BuyerView {
	v := oracle.BuyerView{
		QuoteID:      in.QuoteID,
		Round:        in.Round,
		SellerPrice:  in.SellerPrice,
		MaxWTP:       p.profile.MaxWTP,
		EffectiveMax: p.profile.EffectiveMax(),
		Urgency:      p.profile.Urgency,
		Strategy:     string(p.profile.Strategy),
		History:      in.History,
	}
	if _, ok := model.LastPrice(in.History, model.RoleBuyer); !ok {
		seed := BuyerSeed(in.SellerPrice, p.profile.Strategy, p.profile.Urgency)
		v.SuggestedOpening = &seed
	}
	return v
}

func (p *SellerPolicy) view(in SellerInput, baseCost, floor decimal.Decimal) oracle.SellerView {
	return oracle.SellerView{
		QuoteID:       in.QuoteID,
		Round:         in.Round,
		ResourceType:  in.ResourceType,
		DurationHours: in.DurationHours,
		BuyerPrice:    in.BuyerPrice,
		BaseCost:      baseCost,
		Floor:         floor,
		MinMargin:     p.profile.MinMargin,
		MaxDiscount:   p.profile.MaxDiscount,
		Market:        string(p.profile.Market),
		Strategy:      string(p.profile.Strategy),
		History:       in.History,
	}
}

// consult asks the oracle for a move. A nil oracle counts as unavailable.
func consult(ctx context.Context, o oracle.Oracle, req oracle.Request) (oracle.Reply, error) {
	if o == nil {
		return nil, oracle.ErrUnavailable
	}
	reply, err := o.Propose(ctx, req)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("%w: empty reply", oracle.ErrInvalidReply)
	}
	return reply, nil
}
