package negotiation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/compute-market/internal/audit"
	"github.com/Checker-Finance/compute-market/internal/oracle"
	"github.com/Checker-Finance/compute-market/internal/pricing"
	"github.com/Checker-Finance/compute-market/internal/store"
	"github.com/Checker-Finance/compute-market/pkg/config"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memStore is an in-memory QuoteStore that can fail a chosen save.
type memStore struct {
	mu     sync.Mutex
	quotes map[string]*model.Quote
	saves  int
	failAt int
}

func newMemStore() *memStore {
	return &memStore{quotes: make(map[string]*model.Quote)}
}

func (m *memStore) GetQuote(_ context.Context, id string) (*model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return q.Clone(), nil
}

func (m *memStore) SaveQuote(_ context.Context, q *model.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failAt > 0 && m.saves == m.failAt {
		return errors.New("redis: connection refused")
	}
	m.quotes[q.ID] = q.Clone()
	return nil
}

func (m *memStore) get(t *testing.T, id string) *model.Quote {
	t.Helper()
	q, err := m.GetQuote(context.Background(), id)
	require.NoError(t, err)
	return q
}

// testRules has a 10% margin so an 80.00 base cost gives an 88.00 floor.
func testRules() config.NegotiationConfig {
	r := config.DefaultNegotiationConfig()
	r.MinMargin = 0.10
	return r
}

// gpuPricing charges 20/h for GPU and always applies a 15% opening premium.
func gpuPricing() *pricing.SellerPricing {
	p := pricing.DefaultParams()
	p.HourlyRates = map[string]decimal.Decimal{"GPU": d("20"), "CPU": d("0.80")}
	p.PremiumMin, p.PremiumMax = 0.15, 0.15
	return pricing.NewSellerPricing(p, nil, rand.New(rand.NewSource(42)), nil)
}

type fixture struct {
	engine *Engine
	store  *memStore
	sink   *audit.Memory
}

func newFixture(o oracle.Oracle, rules config.NegotiationConfig) *fixture {
	ms := newMemStore()
	sink := &audit.Memory{}
	return &fixture{
		engine: NewEngine(ms, gpuPricing(), o, rules, sink, nil),
		store:  ms,
		sink:   sink,
	}
}

// gpuQuote creates the canonical 4h GPU quote with a 100.00 budget.
func (f *fixture) gpuQuote(t *testing.T) *model.Quote {
	t.Helper()
	q, err := f.engine.CreateQuote(context.Background(), NewQuote{
		BuyerID:       "buyer-1",
		ResourceType:  "GPU",
		DurationHours: 4,
		BuyerMaxPrice: d("100"),
	})
	require.NoError(t, err)
	return q
}

// opposing reads the other side's current price out of an oracle request.
func opposing(req oracle.Request) decimal.Decimal {
	key := "buyer_price"
	if req.Role == oracle.RoleBuyer {
		key = "seller_price"
	}
	return decimal.RequireFromString(req.StructuredContext[key].(string))
}

// prices lists a party's offers of one kind, formatted to cents.
func prices(turns []model.Turn, role model.Role, action model.Action) []string {
	var out []string
	for _, t := range turns {
		if t.Role == role && t.Action == action && t.Price != nil {
			out = append(out, t.Price.StringFixed(2))
		}
	}
	return out
}
