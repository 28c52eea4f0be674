package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/payments"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body, optionally
// prefixed with "sha256=".
const SignatureHeader = "X-Provider-Signature"

// ErrInvalidSignature is returned when the body does not match its signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Reconciler applies settlement events to the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, ev payments.SettlementEvent) (payments.Reconciliation, error)
}

// Sign returns the signature a provider sends for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body in constant time.
func Verify(secret, body []byte, signature string) error {
	sig := strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Handler receives provider settlement webhooks.
type Handler struct {
	reconciler Reconciler
	secret     []byte
	logger     *slog.Logger
}

// NewHandler builds a webhook handler. An empty secret rejects every
// delivery.
func NewHandler(reconciler Reconciler, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reconciler: reconciler, secret: []byte(secret), logger: logger}
}

// Receive verifies and reconciles one event.
func (h *Handler) Receive(c *fiber.Ctx) error {
	if len(h.secret) == 0 {
		return fiber.NewError(http.StatusServiceUnavailable, "webhook secret not configured")
	}
	body := c.Body()
	if err := Verify(h.secret, body, c.Get(SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected", "ip", c.IP())
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}

	var ev payments.SettlementEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid event payload")
	}

	rec, err := h.reconciler.Reconcile(c.UserContext(), ev)
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(rec)
	case errors.Is(err, payments.ErrUnknownEvent):
		// Acknowledge so the provider stops redelivering.
		h.logger.Info("ignoring settlement event", "event_id", ev.ID, "type", ev.Type)
		return c.Status(http.StatusOK).JSON(fiber.Map{"applied": false, "ignored": true})
	default:
		h.logger.Error("settlement reconciliation failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		status := payments.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			return fiber.NewError(status, "reconciliation failed")
		}
		return fiber.NewError(status, err.Error())
	}
}
