package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BusChecker is satisfied by *nats.Conn.
type BusChecker interface {
	IsConnected() bool
	FlushTimeout(timeout time.Duration) error
}

// StoreChecker is satisfied by *store.HybridStore.
type StoreChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes mounts health, metrics and the /api/v1 routes.
func RegisterRoutes(app *fiber.App, bus BusChecker, st StoreChecker, h *MarketHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", healthHandler(bus, st))

	v1 := app.Group("/api/v1")

	v1.Post("/quotes", h.CreateQuote)
	v1.Get("/quotes/recent", h.RecentQuotes)
	v1.Get("/quotes/:id", h.GetQuote)
	v1.Post("/quotes/:id/price", h.StartPricing)
	v1.Post("/quotes/:id/negotiate", h.Negotiate)
	v1.Post("/quotes/:id/payments", h.CapturePayment)
	v1.Get("/payments/providers", h.PaymentProviders)

	v1.Get("/negotiations/active", h.ActiveNegotiations)
	v1.Get("/negotiations/:id", h.GetNegotiation)
	v1.Post("/negotiations/:id/finalize", h.Finalize)

	v1.Get("/resources/availability", h.Availability)
}

func healthHandler(bus BusChecker, st StoreChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if bus == nil || !bus.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := bus.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if st == nil {
			checks["store"] = "not configured"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
