package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/webhook"
)

// RegisterWebhookRoutes wires provider callbacks. They authenticate by
// signature, not bearer token.
func RegisterWebhookRoutes(app *fiber.App, h *webhook.Handler) {
	app.Post("/webhooks/provider", h.Receive)
}
