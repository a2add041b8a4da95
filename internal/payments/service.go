package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/audit"
	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/internal/store"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

var (
	ErrQuoteNotFound   = errors.New("quote not found")
	ErrNotPayable      = errors.New("quote is not payable")
	ErrAlreadyPaid     = errors.New("quote already paid")
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// Store is the persistence the payment flow needs. *store.HybridStore satisfies it.
type Store interface {
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	SaveQuote(ctx context.Context, q *model.Quote) error
	SaveTransaction(ctx context.Context, tx model.Transaction) error
	ListTransactions(ctx context.Context, quoteID string) ([]model.Transaction, error)
	Reserve(ctx context.Context, r model.Reservation) error
}

type Service struct {
	store    Store
	gateways map[string]Gateway
	sink     audit.Sink
	logger   *zap.Logger
	currency string
	now      func() time.Time

	locks sync.Map // quote ID -> *sync.Mutex
}

func NewService(st Store, gateways []Gateway, sink audit.Sink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	m := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		m[strings.ToLower(g.Name())] = g
	}
	return &Service{
		store:    st,
		gateways: m,
		sink:     sink,
		logger:   logger,
		currency: "USD",
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Providers lists the configured provider names.
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.gateways))
	for name := range s.gateways {
		out = append(out, name)
	}
	return out
}

func (s *Service) lock(quoteID string) func() {
	mu, _ := s.locks.LoadOrStore(quoteID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Capture charges the accepted price of quoteID through provider.
//
// On success the quote becomes paid and one unit is reserved for the quote's
// duration. A declined payment rejects the quote. When the gateway cannot be
// reached the quote stays accepted so the caller can retry.
func (s *Service) Capture(ctx context.Context, quoteID, provider string) (*model.Transaction, error) {
	gw, ok := s.gateways[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	unlock := s.lock(quoteID)
	defer unlock()

	q, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrQuoteNotFound, quoteID)
		}
		return nil, fmt.Errorf("load quote %s: %w", quoteID, err)
	}
	switch {
	case q.Status == model.QuoteStatusPaid:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPaid, quoteID)
	case q.Status != model.QuoteStatusAccepted:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPayable, quoteID, q.Status)
	case q.Price == nil || !q.Price.IsPositive():
		return nil, fmt.Errorf("%w: %s has no agreed price", ErrNotPayable, quoteID)
	}

	txns, err := s.store.ListTransactions(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", quoteID, err)
	}
	for _, tx := range txns {
		if tx.Status == model.TransactionSucceeded || tx.Status == model.TransactionPending {
			return nil, fmt.Errorf("%w: transaction %s exists", ErrAlreadyPaid, tx.ID)
		}
	}

	res, err := gw.Capture(ctx, CaptureRequest{
		QuoteID:        q.ID,
		BuyerID:        q.BuyerID,
		Amount:         *q.Price,
		Currency:       s.currency,
		Description:    fmt.Sprintf("%s x %dh", q.ResourceType, q.DurationHours),
		IdempotencyKey: q.ID,
	})
	if err != nil {
		metrics.IncPaymentCapture(gw.Name(), "unavailable")
		s.logger.Warn("payments.capture_unavailable",
			zap.String("quote_id", q.ID),
			zap.String("provider", gw.Name()),
			zap.Error(err))
		if errors.Is(err, ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	now := s.now()
	tx := model.Transaction{
		ID:         uuid.NewString(),
		QuoteID:    q.ID,
		Provider:   gw.Name(),
		ProviderID: res.ProviderID,
		Amount:     *q.Price,
		Status:     res.Status,
		CreatedAt:  now,
	}
	if err := s.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record transaction for %s: %w", q.ID, err)
	}

	if res.Status != model.TransactionSucceeded {
		metrics.IncPaymentCapture(gw.Name(), "declined")
		q.Status = model.QuoteStatusRejected
		q.UpdatedAt = now
		if err := s.store.SaveQuote(ctx, q); err != nil {
			return nil, fmt.Errorf("reject quote %s: %w", q.ID, err)
		}
		s.emit(ctx, model.EventPaymentFailed, q, tx, res.Reason)
		return &tx, fmt.Errorf("%w: %s", ErrPaymentDeclined, res.Reason)
	}

	metrics.IncPaymentCapture(gw.Name(), "succeeded")
	q.Status = model.QuoteStatusPaid
	q.UpdatedAt = now
	if err := s.store.SaveQuote(ctx, q); err != nil {
		return nil, fmt.Errorf("mark quote %s paid: %w", q.ID, err)
	}

	if err := s.store.Reserve(ctx, model.Reservation{
		QuoteID:      q.ID,
		ResourceType: q.ResourceType,
		Units:        1,
		ExpiresAt:    now.Add(time.Duration(q.DurationHours) * time.Hour),
	}); err != nil {
		// payment already captured; the reservation can be repaired out of band
		metrics.IncError("payments", "reserve_failed")
		s.logger.Error("payments.reserve_failed", zap.String("quote_id", q.ID), zap.Error(err))
	}

	s.emit(ctx, model.EventPaymentSucceeded, q, tx, "")
	s.logger.Info("payments.captured",
		zap.String("quote_id", q.ID),
		zap.String("provider", gw.Name()),
		zap.String("amount", tx.Amount.StringFixed(2)))
	return &tx, nil
}

func (s *Service) emit(ctx context.Context, typ string, q *model.Quote, tx model.Transaction, reason string) {
	data := map[string]any{
		"transaction_id": tx.ID,
		"provider":       tx.Provider,
		"amount":         tx.Amount.StringFixed(2),
		"buyer_id":       q.BuyerID,
		"resource_type":  q.ResourceType,
	}
	if reason != "" {
		data["reason"] = reason
	}
	audit.Emit(ctx, s.sink, s.logger, model.Event{Type: typ, QuoteID: q.ID, Timestamp: tx.CreatedAt, Data: data})
}
