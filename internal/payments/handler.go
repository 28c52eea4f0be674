package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/wallet"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createWalletRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

// CreateWallet provisions a wallet for an owner.
func (h *Handler) CreateWallet(c *fiber.Ctx) error {
	var req createWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.OwnerID == "" {
		if uid, ok := c.Locals("principal").(string); ok {
			req.OwnerID = uid
		}
	}
	w, err := h.service.CreateWallet(c.UserContext(), req.OwnerID, req.Currency)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(wallet.ToResponse(w))
}

// Pay executes a guarded payment. The Idempotency-Key header is used when
// the body carries no key.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get(idempotencyKeyHeader)
	}

	res, err := h.service.Pay(c.UserContext(), req)
	switch {
	case err == nil:
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		return c.Status(status).JSON(res)
	case errors.Is(err, ErrPaymentPending):
		return c.Status(http.StatusAccepted).JSON(res)
	default:
		return toHTTPError(err)
	}
}

// Simulate dry-runs a payment.
func (h *Handler) Simulate(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	sim, err := h.service.Simulate(c.UserContext(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(sim)
}

// CreateIntent stores a simulated payment for later confirmation.
func (h *Handler) CreateIntent(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	intent, err := h.service.CreateIntent(c.UserContext(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(intent)
}

// ConfirmIntent pays a stored intent.
func (h *Handler) ConfirmIntent(c *fiber.Ctx) error {
	res, err := h.service.ConfirmIntent(c.UserContext(), c.Params("intentId"))
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(res)
	case errors.Is(err, ErrPaymentPending):
		return c.Status(http.StatusAccepted).JSON(res)
	default:
		return toHTTPError(err)
	}
}

// Guards lists the configured guard policies.
func (h *Handler) Guards(c *fiber.Ctx) error {
	policies := h.service.Policies()
	if policies == nil {
		policies = []guard.Policy{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"guards": policies})
}

func toHTTPError(err error) error {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return fiber.NewError(status, "internal error")
	}
	return fiber.NewError(status, err.Error())
}
