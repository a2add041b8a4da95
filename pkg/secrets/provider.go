package secrets

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrSecretNotFound is returned by providers when a key has no stored value.
var ErrSecretNotFound = errors.New("secret not found")

// Provider defines a generic secrets manager interface.
// Secrets are JSON objects of string fields, e.g. {"api_key": "...", "base_url": "..."}.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its fields.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// ListSecrets returns the names of all secrets whose name starts with prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}

// StaticProvider serves secrets from memory. It backs local development when no
// AWS account is configured, and is handy in tests.
type StaticProvider struct {
	secrets map[string]map[string]string
}

func NewStaticProvider(secrets map[string]map[string]string) *StaticProvider {
	cp := make(map[string]map[string]string, len(secrets))
	for name, fields := range secrets {
		inner := make(map[string]string, len(fields))
		for k, v := range fields {
			inner[k] = v
		}
		cp[strings.ToLower(name)] = inner
	}
	return &StaticProvider{secrets: cp}
}

func (p *StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	fields, ok := p.secrets[strings.ToLower(key)]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

func (p *StaticProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.ToLower(prefix)
	var names []string
	for name := range p.secrets {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
