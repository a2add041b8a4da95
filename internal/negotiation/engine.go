// Package negotiation runs turn-based price negotiations between a buyer and
// a seller over a quote. The engine owns session lifecycle; callers only go
// through its API.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/audit"
	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/internal/oracle"
	"github.com/Checker-Finance/compute-market/internal/pricing"
	"github.com/Checker-Finance/compute-market/internal/store"
	"github.com/Checker-Finance/compute-market/pkg/config"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

// QuoteStore is the persistence the engine needs. *store.HybridStore satisfies it.
type QuoteStore interface {
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	SaveQuote(ctx context.Context, q *model.Quote) error
}

// NewQuote is a buyer's request for capacity.
type NewQuote struct {
	BuyerID       string          `json:"buyer_id"`
	ResourceType  string          `json:"resource_type"`
	DurationHours int             `json:"duration_hours"`
	BuyerMaxPrice decimal.Decimal `json:"buyer_max_price"`
}

// NegotiateOptions tunes one Negotiate call. Zero values take configured defaults.
type NegotiateOptions struct {
	MaxTurns int
	Urgency  *float64
	Strategy string
}

// Result is returned by Negotiate.
type Result struct {
	QuoteID    string           `json:"quote_id"`
	State      State            `json:"state"`
	Rounds     int              `json:"rounds"`
	FinalPrice *decimal.Decimal `json:"final_price,omitempty"`
	Quote      *model.Quote     `json:"quote"`
	Transcript []model.Turn     `json:"transcript"`
}

const (
	FinalizeStatusFinalized = "finalized"
	FinalizeStatusNotFound  = "not_found"
)

// FinalizeResult is returned by Finalize. Summary is nil when the ID is unknown.
type FinalizeResult struct {
	QuoteID string          `json:"quote_id"`
	Status  string          `json:"status"`
	State   State           `json:"state,omitempty"`
	Summary *SessionSummary `json:"summary,omitempty"`
}

// Engine drives negotiation sessions.
type Engine struct {
	store    QuoteStore
	sessions *SessionStore
	pricing  *pricing.SellerPricing
	oracle   oracle.Oracle
	rules    config.NegotiationConfig
	sink     audit.Sink
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine wires the engine. o may be nil, in which case every decision
// that would consult the oracle uses the deterministic fallback.
func NewEngine(
	qs QuoteStore,
	sp *pricing.SellerPricing,
	o oracle.Oracle,
	rules config.NegotiationConfig,
	sink audit.Sink,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	rules = rules.Sanitized()
	return &Engine{
		store:    qs,
		sessions: NewSessionStore(),
		pricing:  sp,
		oracle:   o,
		rules:    rules,
		sink:     sink,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateQuote persists a pending quote and registers its session.
func (e *Engine) CreateQuote(ctx context.Context, in NewQuote) (*model.Quote, error) {
	switch {
	case in.ResourceType == "":
		return nil, fmt.Errorf("%w: resource_type is required", ErrInvalidInput)
	case in.DurationHours <= 0:
		return nil, fmt.Errorf("%w: duration_hours must be positive", ErrInvalidInput)
	case !in.BuyerMaxPrice.IsPositive():
		return nil, fmt.Errorf("%w: buyer_max_price must be positive", ErrInvalidInput)
	}

	now := e.now()
	q := &model.Quote{
		ID:             uuid.NewString(),
		BuyerID:        in.BuyerID,
		ResourceType:   in.ResourceType,
		DurationHours:  in.DurationHours,
		BuyerMaxPrice:  in.BuyerMaxPrice,
		Status:         model.QuoteStatusPending,
		NegotiationLog: []model.Turn{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, commit, unlock := e.sessions.lock(q.ID)
	defer unlock()
	if err := e.persist(ctx, q); err != nil {
		return nil, err
	}
	commit(newSession(q.ID, SellerProfileFromConfig(e.rules), now))
	metrics.IncQuoteCreated(q.ResourceType)

	e.logger.Info("negotiation.quote_created",
		zap.String("quote_id", q.ID),
		zap.String("resource_type", q.ResourceType),
		zap.Int("duration_hours", q.DurationHours))
	return q.Clone(), nil
}

// StartPricing sets the seller's opening quote on a pending quote.
func (e *Engine) StartPricing(ctx context.Context, quoteID string) (*model.Quote, error) {
	cur, commit, unlock := e.sessions.lock(quoteID)
	defer unlock()

	q, s, err := e.load(ctx, quoteID, cur)
	if err != nil {
		return nil, err
	}
	if s.State != StatePending || q.Status != model.QuoteStatusPending {
		return nil, fmt.Errorf("%w: quote %s is %s, not pending", ErrInvalidState, quoteID, s.State)
	}

	q, s, err = e.price(ctx, q, s)
	if err != nil {
		return nil, err
	}
	commit(s)
	return q.Clone(), nil
}

// Negotiate runs rounds until a terminal state. A pending quote is priced first.
func (e *Engine) Negotiate(ctx context.Context, quoteID string, opts NegotiateOptions) (*Result, error) {
	start := time.Now()

	maxTurns := opts.MaxTurns
	if maxTurns == 0 {
		maxTurns = e.rules.DefaultMaxTurns
	}
	if maxTurns < 0 || maxTurns > e.rules.HardMaxTurns {
		return nil, fmt.Errorf("%w: max_turns must be between 1 and %d", ErrInvalidInput, e.rules.HardMaxTurns)
	}
	strategy, err := ParseStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		strategy = ""
	}

	cur, commit, unlock := e.sessions.lock(quoteID)
	defer unlock()

	q, s, err := e.load(ctx, quoteID, cur)
	if err != nil {
		return nil, err
	}
	if s.State == StatePending {
		if q, s, err = e.price(ctx, q, s); err != nil {
			return nil, err
		}
		commit(s)
	}
	if s.State != StatePriced && s.State != StateNegotiating {
		return nil, fmt.Errorf("%w: quote %s is %s", ErrInvalidState, quoteID, s.State)
	}
	if s.LastOffer == nil {
		return nil, fmt.Errorf("%w: quote %s has no seller price", ErrInvalidState, quoteID)
	}
	if !q.BuyerMaxPrice.IsPositive() {
		return nil, fmt.Errorf("%w: buyer_max_price must be positive", ErrInvalidInput)
	}

	profile := NewBuyerProfile(q.BuyerMaxPrice, opts.Urgency, strategy, e.rules)
	if s.Buyer != nil {
		profile = *s.Buyer
	}
	buyer := NewBuyerPolicy(profile, e.rules, e.oracle, e.logger)
	seller := NewSellerPolicy(s.Seller, e.rules, e.pricing, e.oracle, e.logger)

	e.logger.Info("negotiation.start",
		zap.String("quote_id", quoteID),
		zap.String("state", string(s.State)),
		zap.Int("round", s.Round),
		zap.Int("max_turns", maxTurns),
		zap.Float64("urgency", profile.Urgency),
		zap.String("strategy", string(profile.Strategy)))

	for !s.State.Terminal() {
		draft, dq := s.clone(), q.Clone()
		draft.Buyer = &profile

		if draft.Round >= maxTurns {
			e.settle(draft, dq, StateMaxRoundsReached, nil)
			e.stamp(draft, dq)
		} else if err := e.guard("round", quoteID, func() error {
			return e.playRound(ctx, draft, dq, buyer, seller, maxTurns)
		}); err != nil {
			return nil, err
		}

		if err := e.persist(ctx, dq); err != nil {
			return nil, err
		}
		commit(draft)
		prevRound := s.Round
		s, q = draft, dq
		if s.Round > prevRound {
			e.emitRound(ctx, q, s)
		}
	}

	outcome := string(s.State)
	metrics.RecordOutcome(outcome, q.ResourceType, s.Round)
	metrics.ObserveDuration(metrics.NegotiationDuration, start, outcome)
	e.emitTerminal(ctx, q, s)

	e.logger.Info("negotiation.complete",
		zap.String("quote_id", quoteID),
		zap.String("state", outcome),
		zap.Int("rounds", s.Round),
		zap.Duration("elapsed", time.Since(start)))

	return &Result{
		QuoteID:    q.ID,
		State:      s.State,
		Rounds:     s.Round,
		FinalPrice: s.FinalPrice,
		Quote:      q.Clone(),
		Transcript: model.CloneTurns(s.History),
	}, nil
}

// GetSession returns the committed summary for a live session.
func (e *Engine) GetSession(quoteID string) (SessionSummary, bool) {
	s, ok := e.sessions.Get(quoteID)
	if !ok {
		return SessionSummary{}, false
	}
	return s.Summary(), true
}

// ActiveNegotiations lists sessions that have not been finalized.
func (e *Engine) ActiveNegotiations() []string {
	return e.sessions.IDs(func(s *Session) bool { return s.State != StateFinalized })
}

// Finalize closes a terminal session and records the finalization on the
// quote. It is idempotent: unknown and already finalized IDs succeed without
// changes, including after a restart.
func (e *Engine) Finalize(ctx context.Context, quoteID string) (*FinalizeResult, error) {
	cur, commit, unlock := e.sessions.lock(quoteID)
	defer unlock()

	if cur != nil && cur.State == StateFinalized {
		return finalized(quoteID, cur), nil
	}

	q, s, err := e.load(ctx, quoteID, cur)
	switch {
	case errors.Is(err, ErrQuoteNotFound) && cur == nil:
		return &FinalizeResult{QuoteID: quoteID, Status: FinalizeStatusNotFound}, nil
	case err != nil:
		return nil, err
	}
	if s.State == StateFinalized {
		commit(s)
		return finalized(quoteID, s), nil
	}
	if !s.State.Terminal() {
		return nil, fmt.Errorf("%w: quote %s is %s and cannot be finalized", ErrInvalidState, quoteID, s.State)
	}

	now := e.now()
	draft := s.clone()
	draft.Outcome = s.State
	draft.State = StateFinalized
	draft.FinalizedAt = &now
	draft.UpdatedAt = now

	dq := q.Clone()
	dq.FinalizedAt = &now
	dq.UpdatedAt = now
	if err := e.persist(ctx, dq); err != nil {
		return nil, err
	}
	commit(draft)

	audit.Emit(ctx, e.sink, e.logger, model.Event{
		Type:      model.EventNegotiationFinalized,
		QuoteID:   quoteID,
		Timestamp: now,
		Data: map[string]any{
			"outcome": string(draft.Outcome),
			"rounds":  draft.Round,
		},
	})
	e.logger.Info("negotiation.finalized",
		zap.String("quote_id", quoteID),
		zap.String("outcome", string(draft.Outcome)))

	return finalized(quoteID, draft), nil
}

func finalized(quoteID string, s *Session) *FinalizeResult {
	sum := s.Summary()
	return &FinalizeResult{QuoteID: quoteID, Status: FinalizeStatusFinalized, State: s.State, Summary: &sum}
}

// load fetches the quote and the session, rebuilding the session from the
// quote when the registry does not have it.
func (e *Engine) load(ctx context.Context, quoteID string, cur *Session) (*model.Quote, *Session, error) {
	q, err := e.store.GetQuote(ctx, quoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrQuoteNotFound, quoteID)
		}
		metrics.IncError("negotiation", "load_quote")
		return nil, nil, fmt.Errorf("%w: load quote %s: %v", ErrPersistence, quoteID, err)
	}
	if cur != nil {
		return q, cur, nil
	}

	s := sessionFromQuote(q, SellerProfileFromConfig(e.rules))
	e.logger.Info("negotiation.session_rehydrated",
		zap.String("quote_id", quoteID),
		zap.String("state", string(s.State)),
		zap.Int("round", s.Round))
	return q, s, nil
}

func (e *Engine) price(ctx context.Context, q *model.Quote, s *Session) (*model.Quote, *Session, error) {
	draft, dq := s.clone(), q.Clone()
	seller := NewSellerPolicy(draft.Seller, e.rules, e.pricing, e.oracle, e.logger)

	err := e.guard("pricing", q.ID, func() error {
		draft.State = StatePricing
		opening := seller.OpeningQuote(ctx, dq)
		draft.record(model.Turn{
			Role:      model.RoleSeller,
			Action:    model.ActionInitialQuote,
			Price:     model.DecimalPtr(opening),
			Reason:    "opening quote",
			Round:     0,
			Timestamp: e.now(),
		})
		draft.LastOffer = model.DecimalPtr(opening)
		draft.State = StatePriced
		dq.Price = model.DecimalPtr(opening)
		dq.Status = model.QuoteStatusPriced
		e.stamp(draft, dq)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if err := e.persist(ctx, dq); err != nil {
		return nil, nil, err
	}

	audit.Emit(ctx, e.sink, e.logger, model.Event{
		Type:      model.EventQuotePriced,
		QuoteID:   dq.ID,
		Timestamp: dq.UpdatedAt,
		Data: map[string]any{
			"price":          dq.Price.StringFixed(2),
			"buyer_id":       dq.BuyerID,
			"resource_type":  dq.ResourceType,
			"duration_hours": dq.DurationHours,
		},
	})
	e.logger.Info("negotiation.priced",
		zap.String("quote_id", dq.ID),
		zap.String("price", dq.Price.StringFixed(2)))
	return dq, draft, nil
}

// playRound applies one buyer decision and, on a counter, one seller decision
// to the drafts.
func (e *Engine) playRound(ctx context.Context, s *Session, q *model.Quote, buyer *BuyerPolicy, seller *SellerPolicy, maxTurns int) error {
	r := s.Round
	sellerPrice := *s.LastOffer

	e.logger.Debug("negotiation.turn_start",
		zap.String("quote_id", q.ID),
		zap.Int("round", r+1),
		zap.String("seller_price", sellerPrice.StringFixed(2)))

	bd := buyer.Decide(ctx, BuyerInput{QuoteID: q.ID, SellerPrice: sellerPrice, Round: r, History: s.History})
	metrics.IncDecision(string(model.RoleBuyer), string(bd.Action), string(bd.Source))

	switch bd.Action {
	case model.ActionAccept:
		s.record(e.turn(model.RoleBuyer, bd, r+1))
		e.settle(s, q, StateAccepted, &sellerPrice)

	case model.ActionReject:
		s.record(e.turn(model.RoleBuyer, bd, r+1))
		e.settle(s, q, StateRejected, nil)

	case model.ActionCounterOffer:
		if bd.Price == nil || !bd.Price.LessThan(sellerPrice) || bd.Price.LessThan(pricing.MinPrice) {
			return fmt.Errorf("buyer counter %v is not below seller price %s", bd.Price, sellerPrice.StringFixed(2))
		}
		buyerPrice := *bd.Price
		s.record(e.turn(model.RoleBuyer, bd, r+1))

		sd := seller.Decide(ctx, SellerInput{
			QuoteID:       q.ID,
			ResourceType:  q.ResourceType,
			DurationHours: q.DurationHours,
			BuyerPrice:    buyerPrice,
			Round:         r,
			History:       s.History,
		})
		metrics.IncDecision(string(model.RoleSeller), string(sd.Action), string(sd.Source))

		switch sd.Action {
		case model.ActionAccept:
			s.record(e.turn(model.RoleSeller, sd, r+1))
			e.settle(s, q, StateAccepted, &buyerPrice)
		case model.ActionReject:
			s.record(e.turn(model.RoleSeller, sd, r+1))
			e.settle(s, q, StateRejected, nil)
		case model.ActionCounterOffer:
			if sd.Price == nil || !sd.Price.GreaterThan(buyerPrice) {
				return fmt.Errorf("seller counter %v is not above buyer price %s", sd.Price, buyerPrice.StringFixed(2))
			}
			s.record(e.turn(model.RoleSeller, sd, r+1))
			s.LastOffer = model.DecimalPtr(*sd.Price)
			q.Price = model.DecimalPtr(*sd.Price)
			s.State = StateNegotiating
		default:
			return fmt.Errorf("unexpected seller action %q", sd.Action)
		}

	default:
		return fmt.Errorf("unexpected buyer action %q", bd.Action)
	}

	s.Round = r + 1
	if s.State == StateNegotiating && s.Round >= maxTurns {
		e.settle(s, q, StateMaxRoundsReached, nil)
	}
	e.stamp(s, q)
	return nil
}

func (e *Engine) turn(role model.Role, d Decision, round int) model.Turn {
	t := model.Turn{Role: role, Action: d.Action, Reason: d.Reason, Round: round, Timestamp: e.now()}
	if d.Price != nil {
		t.Price = model.DecimalPtr(*d.Price)
	}
	return t
}

func (e *Engine) settle(s *Session, q *model.Quote, state State, price *decimal.Decimal) {
	s.State = state
	switch state {
	case StateAccepted:
		s.FinalPrice = model.DecimalPtr(*price)
		s.LastOffer = model.DecimalPtr(*price)
		q.Price = model.DecimalPtr(*price)
		q.Status = model.QuoteStatusAccepted
	default:
		q.Status = model.QuoteStatusRejected
	}
}

func (e *Engine) stamp(s *Session, q *model.Quote) {
	now := e.now()
	s.UpdatedAt = now
	q.UpdatedAt = now
	q.NegotiationLog = model.CloneTurns(s.History)
}

// guard runs fn and converts errors and panics into ErrNegotiationFailed.
func (e *Engine) guard(op, quoteID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncError("negotiation", "panic")
			e.logger.Error("negotiation.panic",
				zap.String("op", op),
				zap.String("quote_id", quoteID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %s panicked: %v", ErrNegotiationFailed, op, r)
		}
	}()

	if err := fn(); err != nil {
		metrics.IncError("negotiation", op)
		e.logger.Error("negotiation.failed",
			zap.String("op", op),
			zap.String("quote_id", quoteID),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrNegotiationFailed, op, err)
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, q *model.Quote) error {
	if err := e.store.SaveQuote(ctx, q); err != nil {
		metrics.IncError("negotiation", "save_quote")
		e.logger.Error("negotiation.persist_failed",
			zap.String("quote_id", q.ID),
			zap.Error(err))
		return fmt.Errorf("%w: save quote %s: %v", ErrPersistence, q.ID, err)
	}
	return nil
}

func (e *Engine) emitRound(ctx context.Context, q *model.Quote, s *Session) {
	data := map[string]any{
		"round":         s.Round,
		"state":         string(s.State),
		"buyer_id":      q.BuyerID,
		"resource_type": q.ResourceType,
	}
	if p, ok := model.LastPrice(s.History, model.RoleBuyer); ok {
		data["buyer_price"] = p.StringFixed(2)
	}
	if p, ok := model.LastPrice(s.History, model.RoleSeller); ok {
		data["seller_price"] = p.StringFixed(2)
	}
	audit.Emit(ctx, e.sink, e.logger, model.Event{
		Type:      model.EventNegotiationRound,
		QuoteID:   q.ID,
		Timestamp: s.UpdatedAt,
		Data:      data,
	})
}

func (e *Engine) emitTerminal(ctx context.Context, q *model.Quote, s *Session) {
	var typ string
	switch s.State {
	case StateAccepted:
		typ = model.EventNegotiationAccepted
	case StateRejected:
		typ = model.EventNegotiationRejected
	case StateMaxRoundsReached:
		typ = model.EventNegotiationMaxRounds
	default:
		return
	}
	data := map[string]any{
		"rounds":        s.Round,
		"buyer_id":      q.BuyerID,
		"resource_type": q.ResourceType,
	}
	if s.FinalPrice != nil {
		data["final_price"] = s.FinalPrice.StringFixed(2)
	}
	audit.Emit(ctx, e.sink, e.logger, model.Event{
		Type:      typ,
		QuoteID:   q.ID,
		Timestamp: s.UpdatedAt,
		Data:      data,
	})
}
