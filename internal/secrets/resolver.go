package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Checker-Finance/compute-market/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/compute-market/pkg/secrets"
	"go.uber.org/zap"
)

// ErrMissingAPIKey is returned when a secret exists but carries no api_key field.
var ErrMissingAPIKey = errors.New("secret has no api_key")

// Resolver resolves outbound integration credentials (the pricing oracle and
// each payment provider) from a secrets Provider, caching results locally.
//
// Secret naming convention: {env}/{integration}
type Resolver[T any] struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewResolver constructs a resolver. parse extracts T from the raw secret map
// and should validate required fields.
func NewResolver[T any](
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver[T]{
		logger:   logger,
		env:      strings.ToLower(env),
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

// NewCredentialsResolver is the common case: T is APICredentials.
func NewCredentialsResolver(logger *zap.Logger, env string, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[pkgsecrets.APICredentials]) *Resolver[pkgsecrets.APICredentials] {
	return NewResolver(logger, env, provider, cache, ParseAPICredentials)
}

// ParseAPICredentials reads api_key (required) and base_url (optional).
func ParseAPICredentials(m map[string]string) (pkgsecrets.APICredentials, error) {
	key := strings.TrimSpace(m["api_key"])
	if key == "" {
		return pkgsecrets.APICredentials{}, ErrMissingAPIKey
	}
	return pkgsecrets.APICredentials{
		APIKey:  key,
		BaseURL: strings.TrimSpace(m["base_url"]),
	}, nil
}

func (r *Resolver[T]) secretName(integration string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s", r.env, integration))
}

// Resolve returns the cached or freshly fetched value for integration.
func (r *Resolver[T]) Resolve(ctx context.Context, integration string) (T, error) {
	key := strings.ToLower(integration)
	if v, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return v, nil
	}
	metrics.IncCacheHit("miss")

	var zero T
	name := r.secretName(integration)
	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return zero, fmt.Errorf("resolve %q: %w", integration, err)
	}

	v, err := r.parse(raw)
	if err != nil {
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, v)
	r.logger.Info("secrets.resolved", zap.String("integration", key))
	return v, nil
}

// Invalidate drops a cached value, forcing the next Resolve to refetch.
// Callers use this after an upstream 401.
func (r *Resolver[T]) Invalidate(integration string) {
	r.cache.Bust(strings.ToLower(integration))
}

// Discover lists the integrations that have secrets configured for this env.
func (r *Resolver[T]) Discover(ctx context.Context) ([]string, error) {
	prefix := r.env + "/"
	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover integrations: %w", err)
	}

	var out []string
	for _, name := range names {
		rest := strings.TrimPrefix(strings.ToLower(name), prefix)
		if rest != "" && rest != strings.ToLower(name) && !strings.Contains(rest, "/") {
			out = append(out, rest)
		}
	}
	r.logger.Info("secrets.integrations_discovered",
		zap.Int("count", len(out)),
		zap.Strings("integrations", out),
	)
	return out, nil
}
