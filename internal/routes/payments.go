package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/payments"
)

// RegisterPaymentRoutes wires payment, intent and guard endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/payments", h.Pay)
	r.Post("/payments/simulate", h.Simulate)
	r.Post("/payments/intents", h.CreateIntent)
	r.Post("/payments/intents/:intentId/confirm", h.ConfirmIntent)
	r.Get("/guards", h.Guards)
}
