package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Checker-Finance/compute-market/internal/httpclient"
	"github.com/Checker-Finance/compute-market/pkg/secrets"
)

// CredentialResolver supplies the oracle API key.
type CredentialResolver interface {
	Resolve(ctx context.Context, integration string) (secrets.APICredentials, error)
	Invalidate(integration string)
}

// HTTPOracle POSTs the request as JSON and parses the body with ParseReply.
type HTTPOracle struct {
	url       string
	exec      *httpclient.Executor
	creds     CredentialResolver
	secretKey string
}

// NewHTTPOracle builds the adapter. url may be empty when the secret carries
// base_url; creds may be nil for an unauthenticated oracle.
func NewHTTPOracle(url string, exec *httpclient.Executor, creds CredentialResolver, secretKey string) *HTTPOracle {
	return &HTTPOracle{url: url, exec: exec, creds: creds, secretKey: secretKey}
}

func (o *HTTPOracle) Propose(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal oracle request: %w", err)
	}

	url, key := o.url, ""
	if o.creds != nil {
		c, err := o.creds.Resolve(ctx, o.secretKey)
		if err != nil {
			return nil, fmt.Errorf("oracle credentials: %w", err)
		}
		key = c.APIKey
		if url == "" {
			url = c.BaseURL
		}
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no oracle url configured", ErrUnavailable)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	raw, err := o.exec.Do(ctx, httpReq, "oracle:"+string(req.Role))
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized && o.creds != nil {
			o.creds.Invalidate(o.secretKey)
		}
		return nil, err
	}
	return ParseReply(raw)
}
