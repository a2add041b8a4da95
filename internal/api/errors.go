package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/compute-market/internal/inventory"
	"github.com/Checker-Finance/compute-market/internal/negotiation"
	"github.com/Checker-Finance/compute-market/internal/payments"
	"github.com/Checker-Finance/compute-market/internal/store"
)

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, negotiation.ErrInvalidInput),
		errors.Is(err, payments.ErrUnknownProvider):
		return fiber.StatusBadRequest
	case errors.Is(err, payments.ErrPaymentDeclined):
		return fiber.StatusPaymentRequired
	case errors.Is(err, negotiation.ErrQuoteNotFound),
		errors.Is(err, payments.ErrQuoteNotFound),
		errors.Is(err, inventory.ErrUnknownResource),
		errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, negotiation.ErrInvalidState),
		errors.Is(err, payments.ErrAlreadyPaid),
		errors.Is(err, payments.ErrNotPayable):
		return fiber.StatusConflict
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return fiber.StatusBadGateway
	case errors.Is(err, negotiation.ErrPersistence):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(StatusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}
