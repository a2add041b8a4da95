// Package audit fans negotiation and payment events out to the event buses.
// Emission is fire-and-forget from the caller's point of view: sinks report
// errors, callers log and count them, and nothing is retried.
package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/pkg/model"
	"go.uber.org/zap"
)

// Sink receives domain events.
type Sink interface {
	Emit(ctx context.Context, ev model.Event) error
}

// Multi emits to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, model.Event) error { return nil }

// Emit sends ev to sink and swallows the error after logging it.
func Emit(ctx context.Context, sink Sink, logger *zap.Logger, ev model.Event) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, ev); err != nil {
		metrics.IncError("audit", "emit_failed")
		if logger != nil {
			logger.Warn("audit.emit_failed",
				zap.String("event_type", ev.Type),
				zap.String("quote_id", ev.QuoteID),
				zap.Error(err))
		}
	}
}

// eventPublisher is implemented by *publisher.Publisher.
type eventPublisher interface {
	PublishEvent(ctx context.Context, ev model.Event, c model.Context) error
}

// NATSSink publishes events as canonical envelopes over JetStream.
type NATSSink struct {
	pub eventPublisher
}

func NewNATSSink(pub eventPublisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Emit(ctx context.Context, ev model.Event) error {
	return s.pub.PublishEvent(ctx, ev, contextOf(ev))
}

func contextOf(ev model.Event) model.Context {
	c := model.Context{QuoteID: ev.QuoteID}
	if v, ok := ev.Data["buyer_id"].(string); ok {
		c.BuyerID = v
	}
	if v, ok := ev.Data["resource_type"].(string); ok {
		c.ResourceType = v
	}
	return c
}

// Memory records events in order. Used by tests and the dev profile.
type Memory struct {
	mu     sync.Mutex
	events []model.Event
}

func (m *Memory) Emit(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Event(nil), m.events...)
}

// Types returns the recorded event types in order.
func (m *Memory) Types() []string {
	evs := m.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}
