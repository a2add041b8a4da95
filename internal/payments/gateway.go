// Package payments captures payment for accepted quotes and reserves the
// purchased capacity.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/compute-market/internal/httpclient"
	"github.com/Checker-Finance/compute-market/pkg/model"
	"github.com/Checker-Finance/compute-market/pkg/secrets"
)

var (
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// CaptureRequest asks a provider to charge for one quote.
type CaptureRequest struct {
	QuoteID        string          `json:"quote_id"`
	BuyerID        string          `json:"buyer_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// CaptureResult is the provider's verdict. Status is succeeded or failed.
type CaptureResult struct {
	ProviderID string                  `json:"id"`
	Status     model.TransactionStatus `json:"status"`
	Reason     string                  `json:"reason,omitempty"`
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
}

// CredentialResolver supplies provider API keys.
type CredentialResolver interface {
	Resolve(ctx context.Context, integration string) (secrets.APICredentials, error)
	Invalidate(integration string)
}

// HTTPGateway talks to a provider's capture endpoint through the shared executor.
type HTTPGateway struct {
	name    string
	baseURL string
	exec    *httpclient.Executor
	creds   CredentialResolver
}

func NewHTTPGateway(name, baseURL string, exec *httpclient.Executor, creds CredentialResolver) *HTTPGateway {
	return &HTTPGateway{name: strings.ToLower(name), baseURL: strings.TrimRight(baseURL, "/"), exec: exec, creds: creds}
}

func (g *HTTPGateway) Name() string { return g.name }

func (g *HTTPGateway) secretKey() string { return "payments-" + g.name }

type captureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (g *HTTPGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("marshal capture: %w", err)
	}

	base, key := g.baseURL, ""
	if g.creds != nil {
		c, err := g.creds.Resolve(ctx, g.secretKey())
		if err != nil {
			return CaptureResult{}, fmt.Errorf("%w: credentials: %v", ErrGatewayUnavailable, err)
		}
		key = c.APIKey
		if c.BaseURL != "" {
			base = strings.TrimRight(c.BaseURL, "/")
		}
	}
	if base == "" {
		return CaptureResult{}, fmt.Errorf("%w: no url configured for %s", ErrGatewayUnavailable, g.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/%s/captures", base, g.name), bytes.NewReader(body))
	if err != nil {
		return CaptureResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	var resp captureResponse
	if err := g.exec.DoJSON(ctx, httpReq, "payments:"+g.name, &resp); err != nil {
		var se *httpclient.StatusError
		switch {
		case errors.As(err, &se) && se.Status == http.StatusPaymentRequired:
			return CaptureResult{Status: model.TransactionFailed, Reason: strings.TrimSpace(string(se.Body))}, nil
		case errors.As(err, &se) && se.Status == http.StatusUnauthorized:
			if g.creds != nil {
				g.creds.Invalidate(g.secretKey())
			}
			return CaptureResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		case errors.As(err, &se):
			return CaptureResult{}, fmt.Errorf("%s capture rejected: %w", g.name, err)
		default:
			return CaptureResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
	}

	switch strings.ToLower(resp.Status) {
	case "succeeded", "captured", "completed":
		return CaptureResult{ProviderID: resp.ID, Status: model.TransactionSucceeded}, nil
	case "declined", "failed":
		return CaptureResult{ProviderID: resp.ID, Status: model.TransactionFailed, Reason: resp.Reason}, nil
	default:
		return CaptureResult{}, fmt.Errorf("%w: %s returned status %q", ErrGatewayUnavailable, g.name, resp.Status)
	}
}

// SandboxGateway approves every capture. Used when no gateway URL is configured.
type SandboxGateway struct {
	Provider string
}

func (g SandboxGateway) Name() string { return g.Provider }

func (g SandboxGateway) Capture(_ context.Context, req CaptureRequest) (CaptureResult, error) {
	return CaptureResult{
		ProviderID: "sbx_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(g.Provider+":"+req.QuoteID)).String(),
		Status:     model.TransactionSucceeded,
	}, nil
}
