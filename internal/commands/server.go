// Package commands serves the negotiation engine over NATS request/reply.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

const (
	SubjectPrice     = "cmd.negotiation.price.v1"
	SubjectNegotiate = "cmd.negotiation.negotiate.v1"
	SubjectFinalize  = "cmd.negotiation.finalize.v1"

	queueGroup = "market-negotiator-workers"
)

// Engine is the part of *negotiation.Engine the commands drive.
type Engine interface {
	StartPricing(ctx context.Context, quoteID string) (*model.Quote, error)
	Negotiate(ctx context.Context, quoteID string, opts negotiation.NegotiateOptions) (*negotiation.Result, error)
	Finalize(ctx context.Context, quoteID string) (*negotiation.FinalizeResult, error)
}

type subscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Request is the payload of every command. Negotiation options are ignored
// by price and finalize.
type Request struct {
	QuoteID  string   `json:"quote_id"`
	MaxTurns int      `json:"max_turns,omitempty"`
	Urgency  *float64 `json:"urgency,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
}

// Reply is sent back on the message's reply subject.
type Reply struct {
	OK     bool         `json:"ok"`
	Quote  *model.Quote `json:"quote,omitempty"`
	Result any          `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Server consumes cmd.negotiation.* subjects.
type Server struct {
	ctx     context.Context
	logger  *zap.Logger
	nc      subscriber
	engine  Engine
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewServer constructs a Server. timeout bounds each command; zero means 30s.
func NewServer(ctx context.Context, logger *zap.Logger, nc *nats.Conn, engine Engine, timeout time.Duration) *Server {
	return newServer(ctx, logger, nc, engine, timeout)
}

func newServer(ctx context.Context, logger *zap.Logger, nc subscriber, engine Engine, timeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{ctx: ctx, logger: logger, nc: nc, engine: engine, timeout: timeout}
}

// Start subscribes to the command subjects.
func (s *Server) Start() error {
	for _, subj := range []string{SubjectPrice, SubjectNegotiate, SubjectFinalize} {
		sub, err := s.nc.QueueSubscribe(subj, queueGroup, s.handleMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subj, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("subscribed to NATS subject", zap.String("subject", subj))
	}
	return nil
}

// Stop drains the subscriptions so in-flight commands finish.
func (s *Server) Stop() {
	for _, sub := range s.subs {
		if sub == nil {
			continue
		}
		if err := sub.Drain(); err != nil {
			s.logger.Warn("commands.drain_failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
}

func (s *Server) handleMessage(msg *nats.Msg) {
	start := time.Now()
	reply := s.Dispatch(msg.Subject, msg.Data)

	result := "ok"
	if !reply.OK {
		result = "error"
	}
	metrics.IncNATSMessage(msg.Subject, result)

	if msg.Reply == "" {
		s.logger.Debug("commands.no_reply_subject", zap.String("subject", msg.Subject))
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("commands.marshal_reply_failed", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("commands.respond_failed", zap.String("subject", msg.Subject), zap.Error(err))
	}

	s.logger.Debug("message handled",
		zap.String("subject", msg.Subject),
		zap.Bool("ok", reply.OK),
		zap.Duration("latency", time.Since(start)))
}

// Dispatch runs one command and builds its reply.
func (s *Server) Dispatch(subject string, data []byte) Reply {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{Error: "invalid payload: " + err.Error()}
	}
	req.QuoteID = strings.TrimSpace(req.QuoteID)
	if req.QuoteID == "" {
		return Reply{Error: "quote_id is required"}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	switch subject {
	case SubjectPrice:
		q, err := s.engine.StartPricing(ctx, req.QuoteID)
		if err != nil {
			return s.fail(subject, req.QuoteID, err)
		}
		return Reply{OK: true, Quote: q}

	case SubjectNegotiate:
		res, err := s.engine.Negotiate(ctx, req.QuoteID, negotiation.NegotiateOptions{
			MaxTurns: req.MaxTurns,
			Urgency:  req.Urgency,
			Strategy: req.Strategy,
		})
		if err != nil {
			return s.fail(subject, req.QuoteID, err)
		}
		return Reply{OK: true, Quote: res.Quote, Result: res}

	case SubjectFinalize:
		res, err := s.engine.Finalize(ctx, req.QuoteID)
		if err != nil {
			return s.fail(subject, req.QuoteID, err)
		}
		return Reply{OK: true, Result: res}

	default:
		s.logger.Warn("unknown command subject", zap.String("subject", subject))
		return Reply{Error: "unknown command " + subject}
	}
}

func (s *Server) fail(subject, quoteID string, err error) Reply {
	s.logger.Warn("commands.failed",
		zap.String("subject", subject),
		zap.String("quote_id", quoteID),
		zap.Error(err))
	return Reply{Error: err.Error()}
}
