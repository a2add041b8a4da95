package negotiation

import (
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

// Source records which path produced a decision.
type Source string

const (
	SourceRule     Source = "rule"
	SourceOracle   Source = "oracle"
	SourceFallback Source = "fallback"
	// SourceOverride marks an oracle answer that broke a hard bound and was replaced.
	SourceOverride Source = "override"
)

// Decision is one party's move. Price is nil for accept and reject.
type Decision struct {
	Action    model.Action     `json:"action"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Source    Source           `json:"source"`
	Emergency bool             `json:"emergency,omitempty"`
}

func acceptDecision(reason string, src Source) Decision {
	return Decision{Action: model.ActionAccept, Reason: reason, Source: src}
}

func rejectDecision(reason string, src Source) Decision {
	return Decision{Action: model.ActionReject, Reason: reason, Source: src}
}

func counterDecision(price decimal.Decimal, reason string, src Source) Decision {
	return Decision{Action: model.ActionCounterOffer, Price: model.DecimalPtr(price), Reason: reason, Source: src}
}
