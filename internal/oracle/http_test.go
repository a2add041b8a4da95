package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/httpclient"
	"github.com/Checker-Finance/compute-market/pkg/secrets"
)

type stubCreds struct {
	creds       secrets.APICredentials
	invalidated int
}

func (s *stubCreds) Resolve(context.Context, string) (secrets.APICredentials, error) {
	return s.creds, nil
}

func (s *stubCreds) Invalidate(string) { s.invalidated++ }

func TestHTTPOracle_Propose(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"action":"counter_offer","price":81.5,"reason":"closer"}`))
	}))
	defer srv.Close()

	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "oracle", nil)
	o := NewHTTPOracle("", exec, &stubCreds{creds: secrets.APICredentials{APIKey: "key-1", BaseURL: srv.URL}}, "pricing-oracle")

	reply, err := o.Propose(context.Background(), Request{Role: RoleBuyer, QuoteID: "q-1", Round: 2, SystemContext: "NEGOTIATION HISTORY"})
	require.NoError(t, err)
	assert.True(t, reply.(CounterOffer).Price.Equal(decimal.RequireFromString("81.5")))
	assert.Equal(t, "q-1", got.QuoteID)
	assert.Equal(t, RoleBuyer, got.Role)
}

func TestHTTPOracle_UnauthorizedInvalidatesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &stubCreds{creds: secrets.APICredentials{APIKey: "stale"}}
	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "oracle", nil)
	o := NewHTTPOracle(srv.URL, exec, creds, "pricing-oracle")

	_, err := o.Propose(context.Background(), Request{Role: RoleSeller})
	require.Error(t, err)
	assert.Equal(t, 1, creds.invalidated)
}

func TestHTTPOracle_NoURL(t *testing.T) {
	o := NewHTTPOracle("", httpclient.New(nil, nil, nil, 0, "oracle", nil), nil, "")
	_, err := o.Propose(context.Background(), Request{Role: RoleSeller})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPOracle_GarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("I think you should accept maybe"))
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "oracle", nil), nil, "")
	_, err := o.Propose(context.Background(), Request{Role: RoleBuyer})
	assert.ErrorIs(t, err, ErrInvalidReply)
}
