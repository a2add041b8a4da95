package secrets

import (
	"context"
	"testing"
	"time"

	pkgsecrets "github.com/Checker-Finance/compute-market/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	pkgsecrets.Provider
	calls int
}

func (c *countingProvider) GetSecret(ctx context.Context, key string) (map[string]string, error) {
	c.calls++
	return c.Provider.GetSecret(ctx, key)
}

func newTestResolver() (*Resolver[pkgsecrets.APICredentials], *countingProvider) {
	p := &countingProvider{Provider: pkgsecrets.NewStaticProvider(map[string]map[string]string{
		"dev/pricing-oracle": {"api_key": "ok-1", "base_url": "https://oracle.local"},
		"dev/stripe":         {"api_key": "sk-1"},
		"dev/nokey":          {"base_url": "x"},
		"dev/team/nested":    {"api_key": "ignored"},
	})}
	r := NewCredentialsResolver(nil, "dev", p, pkgsecrets.NewCache[pkgsecrets.APICredentials](time.Hour))
	return r, p
}

func TestResolver_ResolveCaches(t *testing.T) {
	r, p := newTestResolver()

	creds, err := r.Resolve(context.Background(), "pricing-oracle")
	require.NoError(t, err)
	assert.Equal(t, "ok-1", creds.APIKey)
	assert.Equal(t, "https://oracle.local", creds.BaseURL)

	_, err = r.Resolve(context.Background(), "PRICING-ORACLE")
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)

	r.Invalidate("pricing-oracle")
	_, err = r.Resolve(context.Background(), "pricing-oracle")
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestResolver_Errors(t *testing.T) {
	r, _ := newTestResolver()

	_, err := r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, pkgsecrets.ErrSecretNotFound)

	_, err = r.Resolve(context.Background(), "nokey")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestResolver_Discover(t *testing.T) {
	r, _ := newTestResolver()
	got, err := r.Discover(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pricing-oracle", "stripe", "nokey"}, got)
}
