package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastGuard(next Oracle, attempts int, timeout time.Duration) *Guard {
	return NewGuard(next, nil, GuardConfig{
		Attempts: attempts,
		Timeout:  timeout,
		Backoff:  func(int) time.Duration { return time.Millisecond },
	}, nil)
}

func TestGuard_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(context.Context, Request) (Reply, error) {
		if calls.Add(1) < 3 {
			return nil, ErrInvalidReply
		}
		return Accept{Reason: "ok"}, nil
	})

	r, err := fastGuard(next, 3, time.Second).Propose(context.Background(), Request{Role: RoleBuyer})
	require.NoError(t, err)
	assert.IsType(t, Accept{}, r)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGuard_ExhaustionIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(context.Context, Request) (Reply, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	})

	_, err := fastGuard(next, 3, time.Second).Propose(context.Background(), Request{Role: RoleSeller})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGuard_PerAttemptTimeout(t *testing.T) {
	next := Func(func(ctx context.Context, _ Request) (Reply, error) {
		select {
		case <-time.After(time.Second):
			return Accept{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	start := time.Now()
	_, err := fastGuard(next, 2, 20*time.Millisecond).Propose(context.Background(), Request{Role: RoleBuyer})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGuard_HungOracleIgnoringContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	next := Func(func(context.Context, Request) (Reply, error) {
		<-block
		return Accept{}, nil
	})

	_, err := fastGuard(next, 1, 20*time.Millisecond).Propose(context.Background(), Request{Role: RoleBuyer})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGuard_RecoversPanicsAndNilReplies(t *testing.T) {
	panicky := Func(func(context.Context, Request) (Reply, error) { panic("bad oracle") })
	_, err := fastGuard(panicky, 2, time.Second).Propose(context.Background(), Request{Role: RoleSeller})
	assert.ErrorIs(t, err, ErrUnavailable)

	empty := Func(func(context.Context, Request) (Reply, error) { return nil, nil })
	_, err = fastGuard(empty, 1, time.Second).Propose(context.Background(), Request{Role: RoleSeller})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "nil reply")
}

func TestGuard_StopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	next := Func(func(context.Context, Request) (Reply, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastGuard(next, 5, time.Second).Propose(ctx, Request{Role: RoleBuyer})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Propose(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
