package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

// --- Mock Engine ---

type mockEngine struct {
	lastOpts negotiation.NegotiateOptions
	err      error
}

func (m *mockEngine) StartPricing(_ context.Context, id string) (*model.Quote, error) {
	if m.err != nil {
		return nil, m.err
	}
	p := decimal.NewFromInt(92)
	return &model.Quote{ID: id, Status: model.QuoteStatusPriced, Price: &p}, nil
}

func (m *mockEngine) Negotiate(_ context.Context, id string, opts negotiation.NegotiateOptions) (*negotiation.Result, error) {
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return &negotiation.Result{
		QuoteID: id,
		State:   negotiation.StateAccepted,
		Rounds:  4,
		Quote:   &model.Quote{ID: id, Status: model.QuoteStatusAccepted},
	}, nil
}

func (m *mockEngine) Finalize(_ context.Context, id string) (*negotiation.FinalizeResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &negotiation.FinalizeResult{QuoteID: id, Status: negotiation.FinalizeStatusFinalized}, nil
}

type recordingConn struct {
	subjects []string
	failOn   string
}

func (r *recordingConn) QueueSubscribe(subj, queue string, _ nats.MsgHandler) (*nats.Subscription, error) {
	if subj == r.failOn {
		return nil, errors.New("nats: connection closed")
	}
	r.subjects = append(r.subjects, subj+"@"+queue)
	return nil, nil
}

func newTestServer(e Engine) *Server {
	return newServer(context.Background(), zap.NewNop(), &recordingConn{}, e, time.Second)
}

// --- Tests ---

func TestStart_SubscribesAllSubjects(t *testing.T) {
	conn := &recordingConn{}
	s := newServer(context.Background(), nil, conn, &mockEngine{}, 0)
	require.NoError(t, s.Start())
	assert.Equal(t, []string{
		SubjectPrice + "@" + queueGroup,
		SubjectNegotiate + "@" + queueGroup,
		SubjectFinalize + "@" + queueGroup,
	}, conn.subjects)

	// nil subscriptions from the fake are skipped
	s.Stop()
}

func TestStart_SubscribeError(t *testing.T) {
	conn := &recordingConn{failOn: SubjectNegotiate}
	s := newServer(context.Background(), nil, conn, &mockEngine{}, 0)
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectNegotiate)
}

func TestDispatch_Price(t *testing.T) {
	s := newTestServer(&mockEngine{})
	reply := s.Dispatch(SubjectPrice, []byte(`{"quote_id":"q-1"}`))
	require.True(t, reply.OK, reply.Error)
	require.NotNil(t, reply.Quote)
	assert.Equal(t, model.QuoteStatusPriced, reply.Quote.Status)
	assert.Nil(t, reply.Result)
}

func TestDispatch_NegotiatePassesOptions(t *testing.T) {
	e := &mockEngine{}
	s := newTestServer(e)
	reply := s.Dispatch(SubjectNegotiate, []byte(`{"quote_id":"q-1","max_turns":6,"urgency":0.9,"strategy":"aggressive"}`))
	require.True(t, reply.OK, reply.Error)

	assert.Equal(t, 6, e.lastOpts.MaxTurns)
	require.NotNil(t, e.lastOpts.Urgency)
	assert.InDelta(t, 0.9, *e.lastOpts.Urgency, 1e-9)
	assert.Equal(t, "aggressive", e.lastOpts.Strategy)

	data, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ok":true`)
	assert.Contains(t, string(data), `"rounds":4`)
}

func TestDispatch_Finalize(t *testing.T) {
	s := newTestServer(&mockEngine{})
	reply := s.Dispatch(SubjectFinalize, []byte(`{"quote_id":"q-1"}`))
	require.True(t, reply.OK)
	res, ok := reply.Result.(*negotiation.FinalizeResult)
	require.True(t, ok)
	assert.Equal(t, negotiation.FinalizeStatusFinalized, res.Status)
}

func TestDispatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		engine  *mockEngine
		subject string
		payload string
		want    string
	}{
		{"bad json", &mockEngine{}, SubjectPrice, `{nope`, "invalid payload"},
		{"missing quote id", &mockEngine{}, SubjectNegotiate, `{"quote_id":"  "}`, "quote_id is required"},
		{"unknown subject", &mockEngine{}, "cmd.negotiation.cancel.v1", `{"quote_id":"q-1"}`, "unknown command"},
		{"engine error", &mockEngine{err: fmt.Errorf("%w: quote q-1 is accepted", negotiation.ErrInvalidState)}, SubjectNegotiate, `{"quote_id":"q-1"}`, "invalid negotiation state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := newTestServer(tt.engine).Dispatch(tt.subject, []byte(tt.payload))
			assert.False(t, reply.OK)
			assert.Contains(t, reply.Error, tt.want)
			assert.Nil(t, reply.Quote)
		})
	}
}
