package negotiation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_UnknownIDsLeaveNoEntries(t *testing.T) {
	f := newFixture(nil, testRules())
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("missing-%d", i)
		res, err := f.engine.Finalize(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, FinalizeStatusNotFound, res.Status)
	}
	_, err := f.engine.Negotiate(ctx, "missing-negotiate", NegotiateOptions{})
	assert.ErrorIs(t, err, ErrQuoteNotFound)
	_, err = f.engine.StartPricing(ctx, "missing-pricing")
	assert.ErrorIs(t, err, ErrQuoteNotFound)

	assert.Equal(t, 0, f.engine.sessions.len())
	assert.Empty(t, f.engine.ActiveNegotiations())
}

func TestSessionStore_CommittedEntriesStay(t *testing.T) {
	f := newFixture(nil, testRules())
	ctx := context.Background()
	q := f.gpuQuote(t)
	_, err := f.engine.Negotiate(ctx, q.ID, NegotiateOptions{})
	require.NoError(t, err)
	_, err = f.engine.Finalize(ctx, q.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.engine.sessions.len())
	_, ok := f.engine.GetSession(q.ID)
	assert.True(t, ok)
}

func TestSessionStore_ConcurrentLockSerializes(t *testing.T) {
	reg := NewSessionStore()

	var (
		wg      sync.WaitGroup
		holders int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, unlock := reg.lock("q")
			defer unlock()

			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, reg.len())

	_, commit, unlock := reg.lock("q")
	commit(&Session{ID: "q"})
	unlock()
	assert.Equal(t, 1, reg.len())
	_, ok := reg.Get("q")
	assert.True(t, ok)
}
