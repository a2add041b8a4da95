package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/httpclient"
	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/internal/rate"
)

// GuardConfig bounds how long and how often the oracle is tried.
type GuardConfig struct {
	Attempts int
	Timeout  time.Duration
	// Backoff returns the pause after a failed attempt; defaults to httpclient.Backoff.
	Backoff func(attempt int) time.Duration
}

// Guard wraps an Oracle with bounded attempts, a strict per-attempt timeout,
// rate limiting and backoff. It never panics; exhaustion returns ErrUnavailable.
type Guard struct {
	next    Oracle
	limiter *rate.Manager
	cfg     GuardConfig
	logger  *zap.Logger
}

func NewGuard(next Oracle, limiter *rate.Manager, cfg GuardConfig, logger *zap.Logger) *Guard {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = httpclient.Backoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{next: next, limiter: limiter, cfg: cfg, logger: logger}
}

func (g *Guard) Propose(ctx context.Context, req Request) (Reply, error) {
	role := string(req.Role)
	var lastErr error

	for attempt := 0; attempt < g.cfg.Attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(g.cfg.Backoff(attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx, "oracle:"+role); err != nil {
				metrics.IncOracleRequest(role, "rate_limited")
				return nil, fmt.Errorf("%w: rate limit: %v", ErrUnavailable, err)
			}
		}

		start := time.Now()
		reply, err := g.attempt(ctx, req)
		metrics.ObserveDuration(metrics.OracleLatency, start, role)
		if err == nil {
			metrics.IncOracleRequest(role, "ok")
			return reply, nil
		}

		lastErr = err
		result := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result = "timeout"
		case errors.Is(err, ErrInvalidReply):
			result = "invalid"
		}
		metrics.IncOracleRequest(role, result)
		g.logger.Warn("oracle.attempt_failed",
			zap.String("role", role),
			zap.String("quote_id", req.QuoteID),
			zap.Int("round", req.Round),
			zap.Int("attempt", attempt+1),
			zap.String("result", result),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, g.cfg.Attempts, lastErr)
}

// attempt runs one call in its own goroutine so a hung oracle cannot outlive the timeout.
func (g *Guard) attempt(ctx context.Context, req Request) (Reply, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type result struct {
		reply Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("oracle panic: %v", r)}
			}
		}()
		rep, err := g.next.Propose(actx, req)
		done <- result{rep, err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.reply == nil {
			return nil, fmt.Errorf("%w: nil reply", ErrInvalidReply)
		}
		return res.reply, res.err
	case <-actx.Done():
		return nil, actx.Err()
	}
}
