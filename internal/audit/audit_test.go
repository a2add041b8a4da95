package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, model.Event) error { return f.err }

type stubPublisher struct {
	got []model.Context
	err error
}

func (s *stubPublisher) PublishEvent(_ context.Context, _ model.Event, c model.Context) error {
	s.got = append(s.got, c)
	return s.err
}

type mockChannel struct {
	keys   []string
	bodies [][]byte
	closed bool
}

func (m *mockChannel) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	m.keys = append(m.keys, key)
	m.bodies = append(m.bodies, msg.Body)
	return nil
}

func (m *mockChannel) Close() error { m.closed = true; return nil }

func TestMulti_EmitsToAllAndJoinsErrors(t *testing.T) {
	mem := &Memory{}
	boom := errors.New("boom")
	m := Multi{mem, failingSink{err: boom}, nil}

	err := m.Emit(context.Background(), model.Event{Type: model.EventNegotiationRound, QuoteID: "q"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{model.EventNegotiationRound}, mem.Types())
}

func TestEmit_SwallowsErrors(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), failingSink{err: errors.New("down")}, zap.NewNop(), model.Event{Type: "x"})
		Emit(context.Background(), nil, nil, model.Event{Type: "x"})
	})
}

func TestNATSSink_DerivesContext(t *testing.T) {
	pub := &stubPublisher{}
	s := NewNATSSink(pub)

	require.NoError(t, s.Emit(context.Background(), model.Event{
		Type:    model.EventNegotiationAccepted,
		QuoteID: "q-1",
		Data:    map[string]any{"resource_type": "GPU", "buyer_id": "b-1"},
	}))
	require.Len(t, pub.got, 1)
	assert.Equal(t, model.Context{QuoteID: "q-1", BuyerID: "b-1", ResourceType: "GPU"}, pub.got[0])
}

func TestAMQPSink_RoutingKey(t *testing.T) {
	ch := &mockChannel{}
	s := newAMQPSink(ch, "market.audit", "audit", nil)

	require.NoError(t, s.Emit(context.Background(), model.Event{Type: model.EventPaymentSucceeded, QuoteID: "q-2"}))
	assert.Equal(t, []string{"audit.payment.succeeded"}, ch.keys)

	var ev model.Event
	require.NoError(t, json.Unmarshal(ch.bodies[0], &ev))
	assert.Equal(t, "q-2", ev.QuoteID)

	require.NoError(t, s.Close())
	assert.True(t, ch.closed)
}
