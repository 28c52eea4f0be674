package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exchanges API keys for access tokens.
type Handler struct {
	svc *Service
}

// NewHandler builds the token endpoint handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Subject     string `json:"subject"`
}

// Token validates an API key and returns a short-lived access token.
func (h *Handler) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	subject, err := h.svc.VerifyAPIKey(req.APIKey)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid api key")
	}
	token, exp, err := h.svc.IssueToken(subject)
	if errors.Is(err, ErrNotConfigured) {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(exp.Sub(h.svc.now()).Seconds()),
		Subject:     subject,
	})
}
