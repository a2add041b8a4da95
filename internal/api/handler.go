package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/inventory"
	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// NegotiationService is the engine surface the handlers drive.
type NegotiationService interface {
	CreateQuote(ctx context.Context, in negotiation.NewQuote) (*model.Quote, error)
	StartPricing(ctx context.Context, quoteID string) (*model.Quote, error)
	Negotiate(ctx context.Context, quoteID string, opts negotiation.NegotiateOptions) (*negotiation.Result, error)
	GetSession(quoteID string) (negotiation.SessionSummary, bool)
	ActiveNegotiations() []string
	Finalize(ctx context.Context, quoteID string) (*negotiation.FinalizeResult, error)
}

// QuoteReader serves read-only quote queries straight from the store.
type QuoteReader interface {
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	RecentQuotes(ctx context.Context, limit int) ([]model.Quote, error)
	ListTransactions(ctx context.Context, quoteID string) ([]model.Transaction, error)
}

// PaymentService captures payment for accepted quotes.
type PaymentService interface {
	Capture(ctx context.Context, quoteID, provider string) (*model.Transaction, error)
	Providers() []string
}

// InventoryService reports resource availability.
type InventoryService interface {
	Availability(ctx context.Context, resourceType string) (inventory.Availability, error)
	All(ctx context.Context) ([]inventory.Availability, error)
}

// MarketHandler handles the quote, negotiation, payment and inventory routes.
type MarketHandler struct {
	logger    *zap.Logger
	engine    NegotiationService
	quotes    QuoteReader
	payments  PaymentService
	inventory InventoryService
}

// NewMarketHandler creates a MarketHandler. payments and inventory are
// optional; their routes answer 503 when nil.
func NewMarketHandler(logger *zap.Logger, engine NegotiationService, quotes QuoteReader, pay PaymentService, inv InventoryService) *MarketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketHandler{
		logger:    logger,
		engine:    engine,
		quotes:    quotes,
		payments:  pay,
		inventory: inv,
	}
}

// CreateQuote handles POST /api/v1/quotes.
func (h *MarketHandler) CreateQuote(c *fiber.Ctx) error {
	var req CreateQuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	q, err := h.engine.CreateQuote(c.Context(), req.toNewQuote())
	if err != nil {
		h.logger.Error("api.create_quote.failed",
			zap.String("buyer_id", req.BuyerID),
			zap.Error(err))
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"quote_id": q.ID,
		"status":   q.Status,
	})
}

// RecentQuotes handles GET /api/v1/quotes/recent.
func (h *MarketHandler) RecentQuotes(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	quotes, err := h.quotes.RecentQuotes(c.Context(), limit)
	if err != nil {
		h.logger.Error("api.recent_quotes.failed", zap.Error(err))
		return writeError(c, err)
	}
	if quotes == nil {
		quotes = []model.Quote{}
	}
	return c.JSON(fiber.Map{"quotes": quotes})
}

// GetQuote handles GET /api/v1/quotes/:id.
func (h *MarketHandler) GetQuote(c *fiber.Ctx) error {
	id := c.Params("id")
	q, err := h.quotes.GetQuote(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	txns, err := h.quotes.ListTransactions(c.Context(), id)
	if err != nil {
		h.logger.Warn("api.list_transactions.failed", zap.String("quote_id", id), zap.Error(err))
		return writeError(c, err)
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return c.JSON(QuoteResponse{Quote: q, Transactions: txns})
}

// StartPricing handles POST /api/v1/quotes/:id/price.
func (h *MarketHandler) StartPricing(c *fiber.Ctx) error {
	id := c.Params("id")
	q, err := h.engine.StartPricing(c.Context(), id)
	if err != nil {
		h.logger.Warn("api.start_pricing.failed", zap.String("quote_id", id), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(q)
}

// Negotiate handles POST /api/v1/quotes/:id/negotiate. The body is optional.
func (h *MarketHandler) Negotiate(c *fiber.Ctx) error {
	id := c.Params("id")

	var req NegotiateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	res, err := h.engine.Negotiate(c.Context(), id, req.Options())
	if err != nil {
		h.logger.Error("api.negotiate.failed", zap.String("quote_id", id), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(res)
}

// CapturePayment handles POST /api/v1/quotes/:id/payments.
func (h *MarketHandler) CapturePayment(c *fiber.Ctx) error {
	if h.payments == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "payments disabled"})
	}
	id := c.Params("id")

	var req PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	tx, err := h.payments.Capture(c.Context(), id, req.Provider)
	if err != nil {
		h.logger.Warn("api.capture_payment.failed",
			zap.String("quote_id", id),
			zap.String("provider", req.Provider),
			zap.Error(err))
		return c.Status(StatusFor(err)).JSON(PaymentResponse{Transaction: tx, Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(PaymentResponse{Transaction: tx})
}

// PaymentProviders handles GET /api/v1/payments/providers.
func (h *MarketHandler) PaymentProviders(c *fiber.Ctx) error {
	providers := []string{}
	if h.payments != nil {
		providers = append(providers, h.payments.Providers()...)
	}
	return c.JSON(fiber.Map{"providers": providers})
}

// ActiveNegotiations handles GET /api/v1/negotiations/active.
func (h *MarketHandler) ActiveNegotiations(c *fiber.Ctx) error {
	ids := h.engine.ActiveNegotiations()
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(fiber.Map{"quote_ids": ids, "count": len(ids)})
}

// GetNegotiation handles GET /api/v1/negotiations/:id.
func (h *MarketHandler) GetNegotiation(c *fiber.Ctx) error {
	id := c.Params("id")
	sum, ok := h.engine.GetSession(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "negotiation not found"})
	}
	return c.JSON(sum)
}

// Finalize handles POST /api/v1/negotiations/:id/finalize. Unknown IDs answer
// 200 with status "not_found".
func (h *MarketHandler) Finalize(c *fiber.Ctx) error {
	id := c.Params("id")
	res, err := h.engine.Finalize(c.Context(), id)
	if err != nil {
		h.logger.Warn("api.finalize.failed", zap.String("quote_id", id), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(res)
}

// Availability handles GET /api/v1/resources/availability. Without a
// resource_type query every catalog entry is returned.
func (h *MarketHandler) Availability(c *fiber.Ctx) error {
	if h.inventory == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "inventory disabled"})
	}

	if rt := c.Query("resource_type"); rt != "" {
		av, err := h.inventory.Availability(c.Context(), rt)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(av)
	}

	all, err := h.inventory.All(c.Context())
	if err != nil {
		h.logger.Error("api.availability.failed", zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"resources": all})
}
