package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/audit"
	"github.com/Checker-Finance/compute-market/internal/inventory"
	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/internal/payments"
	"github.com/Checker-Finance/compute-market/internal/pricing"
	"github.com/Checker-Finance/compute-market/internal/store"
	"github.com/Checker-Finance/compute-market/pkg/config"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

// --- Test Helpers ---

type testEnv struct {
	app   *fiber.App
	store *store.HybridStore
	sink  *audit.Memory
}

// newTestEnv wires the real engine, payments and inventory over miniredis.
// GPU costs 20/h with a fixed 15% opening premium and a 10% margin, so a
// 4h quote opens at 92.00 with an 88.00 floor.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedisOnly(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	sink := &audit.Memory{}

	p := pricing.DefaultParams()
	p.HourlyRates = map[string]decimal.Decimal{"GPU": decimal.NewFromInt(20)}
	p.PremiumMin, p.PremiumMax = 0.15, 0.15
	sp := pricing.NewSellerPricing(p, nil, rand.New(rand.NewSource(7)), nil)

	rules := config.DefaultNegotiationConfig()
	rules.MinMargin = 0.10

	engine := negotiation.NewEngine(st, sp, nil, rules, sink, nil)
	pay := payments.NewService(st, []payments.Gateway{payments.SandboxGateway{Provider: "sandbox"}}, sink, nil)
	inv := inventory.New(st, nil, p.HourlyRates, "us-east-2")

	app := fiber.New()
	RegisterRoutes(app, nil, st, NewMarketHandler(zap.NewNop(), engine, st, pay, inv))
	return &testEnv{app: app, store: st, sink: sink}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (e *testEnv) createGPUQuote(t *testing.T) string {
	t.Helper()
	code, raw := e.do(t, http.MethodPost, "/api/v1/quotes",
		`{"buyer_id":"buyer-1","resource_type":"gpu","duration_hours":4,"buyer_max_price":"100"}`)
	require.Equal(t, fiber.StatusCreated, code, string(raw))

	var out struct {
		QuoteID string `json:"quote_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.QuoteID)
	assert.Equal(t, "pending", out.Status)
	return out.QuoteID
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// --- Full flow ---

func TestMarketFlow_PriceNegotiatePayFinalize(t *testing.T) {
	env := newTestEnv(t)
	id := env.createGPUQuote(t)

	code, raw := env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/price", "")
	require.Equal(t, fiber.StatusOK, code, string(raw))
	priced := decode[model.Quote](t, raw)
	assert.Equal(t, model.QuoteStatusPriced, priced.Status)
	require.NotNil(t, priced.Price)
	assert.Equal(t, "92.00", priced.Price.StringFixed(2))

	code, raw = env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/negotiate", "")
	require.Equal(t, fiber.StatusOK, code, string(raw))
	res := decode[negotiation.Result](t, raw)
	assert.Equal(t, negotiation.StateAccepted, res.State)
	assert.Equal(t, 4, res.Rounds)
	require.NotNil(t, res.FinalPrice)
	assert.Equal(t, "86.20", res.FinalPrice.StringFixed(2))

	code, raw = env.do(t, http.MethodGet, "/api/v1/negotiations/"+id, "")
	require.Equal(t, fiber.StatusOK, code)
	sum := decode[negotiation.SessionSummary](t, raw)
	assert.Equal(t, negotiation.StateAccepted, sum.State)
	assert.Len(t, sum.History, len(res.Transcript))

	code, raw = env.do(t, http.MethodGet, "/api/v1/negotiations/active", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, string(raw), id)

	code, raw = env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/payments", `{"provider":"sandbox"}`)
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	pay := decode[PaymentResponse](t, raw)
	require.NotNil(t, pay.Transaction)
	assert.Equal(t, model.TransactionSucceeded, pay.Transaction.Status)
	assert.Equal(t, "86.20", pay.Transaction.Amount.StringFixed(2))

	code, raw = env.do(t, http.MethodGet, "/api/v1/quotes/"+id, "")
	require.Equal(t, fiber.StatusOK, code)
	var got struct {
		Status       model.QuoteStatus   `json:"status"`
		Transactions []model.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, model.QuoteStatusPaid, got.Status)
	assert.Len(t, got.Transactions, 1)

	code, raw = env.do(t, http.MethodGet, "/api/v1/resources/availability?resource_type=gpu", "")
	require.Equal(t, fiber.StatusOK, code, string(raw))
	av := decode[inventory.Availability](t, raw)
	assert.Equal(t, 1, av.ReservedUnits)
	assert.Equal(t, 99, av.AvailableUnits)

	code, raw = env.do(t, http.MethodPost, "/api/v1/negotiations/"+id+"/finalize", "")
	require.Equal(t, fiber.StatusOK, code, string(raw))
	fin := decode[negotiation.FinalizeResult](t, raw)
	assert.Equal(t, negotiation.FinalizeStatusFinalized, fin.Status)
	assert.Equal(t, negotiation.StateFinalized, fin.State)

	// finalize is idempotent
	code, _ = env.do(t, http.MethodPost, "/api/v1/negotiations/"+id+"/finalize", "")
	assert.Equal(t, fiber.StatusOK, code)

	code, raw = env.do(t, http.MethodGet, "/api/v1/negotiations/active", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.NotContains(t, string(raw), id)

	code, raw = env.do(t, http.MethodGet, "/api/v1/quotes/recent?limit=5", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, string(raw), id)

	assert.Contains(t, env.sink.Types(), model.EventPaymentSucceeded)
	assert.Contains(t, env.sink.Types(), model.EventNegotiationFinalized)
}

func TestNegotiate_WithOptions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createGPUQuote(t)

	code, raw := env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/negotiate", `{"max_turns":1,"strategy":"conservative"}`)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	res := decode[negotiation.Result](t, raw)
	assert.Equal(t, negotiation.StateMaxRoundsReached, res.State)
	assert.Equal(t, model.QuoteStatusRejected, res.Quote.Status)

	// terminal sessions cannot negotiate again
	code, _ = env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/negotiate", "")
	assert.Equal(t, fiber.StatusConflict, code)

	// and cannot be paid
	code, raw = env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/payments", `{"provider":"sandbox"}`)
	assert.Equal(t, fiber.StatusConflict, code, string(raw))
}

// --- Error mapping ---

func TestRoutes_ClientErrors(t *testing.T) {
	env := newTestEnv(t)
	id := env.createGPUQuote(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, "/api/v1/quotes", "{invalid", fiber.StatusBadRequest},
		{"missing resource type", http.MethodPost, "/api/v1/quotes", `{"duration_hours":4,"buyer_max_price":"100"}`, fiber.StatusBadRequest},
		{"zero duration", http.MethodPost, "/api/v1/quotes", `{"resource_type":"GPU","duration_hours":0,"buyer_max_price":"100"}`, fiber.StatusBadRequest},
		{"non-positive budget", http.MethodPost, "/api/v1/quotes", `{"resource_type":"GPU","duration_hours":4,"buyer_max_price":"-1"}`, fiber.StatusBadRequest},
		{"unknown quote price", http.MethodPost, "/api/v1/quotes/missing/price", "", fiber.StatusNotFound},
		{"unknown quote get", http.MethodGet, "/api/v1/quotes/missing", "", fiber.StatusNotFound},
		{"unknown quote negotiate", http.MethodPost, "/api/v1/quotes/missing/negotiate", "", fiber.StatusNotFound},
		{"urgency out of range", http.MethodPost, "/api/v1/quotes/" + id + "/negotiate", `{"urgency":2}`, fiber.StatusBadRequest},
		{"negative max turns", http.MethodPost, "/api/v1/quotes/" + id + "/negotiate", `{"max_turns":-1}`, fiber.StatusBadRequest},
		{"max turns over hard cap", http.MethodPost, "/api/v1/quotes/" + id + "/negotiate", `{"max_turns":500}`, fiber.StatusBadRequest},
		{"unknown strategy", http.MethodPost, "/api/v1/quotes/" + id + "/negotiate", `{"strategy":"reckless"}`, fiber.StatusBadRequest},
		{"pay pending quote", http.MethodPost, "/api/v1/quotes/" + id + "/payments", `{"provider":"sandbox"}`, fiber.StatusConflict},
		{"pay unknown provider", http.MethodPost, "/api/v1/quotes/" + id + "/payments", `{"provider":"cash"}`, fiber.StatusBadRequest},
		{"pay missing provider", http.MethodPost, "/api/v1/quotes/" + id + "/payments", `{}`, fiber.StatusBadRequest},
		{"unknown negotiation", http.MethodGet, "/api/v1/negotiations/missing", "", fiber.StatusNotFound},
		{"unknown resource", http.MethodGet, "/api/v1/resources/availability?resource_type=qpu", "", fiber.StatusNotFound},
		{"finalize live session", http.MethodPost, "/api/v1/negotiations/" + id + "/finalize", "", fiber.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, raw := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code, string(raw))
			assert.Contains(t, string(raw), `"error"`)
		})
	}
}

func TestPricing_Twice_Conflict(t *testing.T) {
	env := newTestEnv(t)
	id := env.createGPUQuote(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/price", "")
	require.Equal(t, fiber.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/quotes/"+id+"/price", "")
	assert.Equal(t, fiber.StatusConflict, code)
}

func TestFinalize_UnknownIsNotFoundStatus(t *testing.T) {
	env := newTestEnv(t)

	code, raw := env.do(t, http.MethodPost, "/api/v1/negotiations/nope/finalize", "")
	require.Equal(t, fiber.StatusOK, code)
	fin := decode[negotiation.FinalizeResult](t, raw)
	assert.Equal(t, negotiation.FinalizeStatusNotFound, fin.Status)
}

func TestAvailability_All(t *testing.T) {
	env := newTestEnv(t)

	code, raw := env.do(t, http.MethodGet, "/api/v1/resources/availability", "")
	require.Equal(t, fiber.StatusOK, code)
	var out struct {
		Resources []inventory.Availability `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Resources, 3)
	assert.Equal(t, "CPU", out.Resources[0].ResourceType)
	assert.Equal(t, "20.00", out.Resources[1].BasePricePerHour.StringFixed(2))
}

func TestHealth_DegradedWithoutBus(t *testing.T) {
	env := newTestEnv(t)

	code, raw := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Contains(t, string(raw), `"nats":"disconnected"`)
	assert.Contains(t, string(raw), `"store":"ok"`)
}

type fakeBus struct{ flushErr error }

func (fakeBus) IsConnected() bool                    { return true }
func (b fakeBus) FlushTimeout(_ time.Duration) error { return b.flushErr }

type fakeStore struct{ err error }

func (s fakeStore) HealthCheck(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name string
		bus  BusChecker
		st   StoreChecker
		want int
	}{
		{"healthy", fakeBus{}, fakeStore{}, fiber.StatusOK},
		{"flush fails", fakeBus{flushErr: errors.New("timeout")}, fakeStore{}, fiber.StatusServiceUnavailable},
		{"store down", fakeBus{}, fakeStore{err: errors.New("redis down")}, fiber.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/health", healthHandler(tt.bus, tt.st))
			resp, err := app.Test(httptestRequest(http.MethodGet, "/health"), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func httptestRequest(method, path string) *http.Request {
	req, _ := http.NewRequest(method, path, nil)
	return req
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", negotiation.ErrInvalidInput), fiber.StatusBadRequest},
		{fmt.Errorf("x: %w", negotiation.ErrQuoteNotFound), fiber.StatusNotFound},
		{fmt.Errorf("x: %w", negotiation.ErrInvalidState), fiber.StatusConflict},
		{fmt.Errorf("x: %w", negotiation.ErrNegotiationFailed), fiber.StatusInternalServerError},
		{fmt.Errorf("x: %w", negotiation.ErrPersistence), fiber.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", payments.ErrPaymentDeclined), fiber.StatusPaymentRequired},
		{fmt.Errorf("x: %w", payments.ErrGatewayUnavailable), fiber.StatusBadGateway},
		{fmt.Errorf("x: %w", payments.ErrAlreadyPaid), fiber.StatusConflict},
		{fmt.Errorf("x: %w", payments.ErrUnknownProvider), fiber.StatusBadRequest},
		{fmt.Errorf("x: %w", inventory.ErrUnknownResource), fiber.StatusNotFound},
		{store.ErrNotFound, fiber.StatusNotFound},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
