package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/auth"
)

// RegisterAuthRoutes wires the API key to access token exchange.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/token", rateLimiter, h.Token)
	} else {
		group.Post("/token", h.Token)
	}
}
