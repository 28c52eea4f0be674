package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes read-only ledger endpoints.
type Handler struct {
	ledger Ledger
}

// NewHandler constructs a ledger handler.
func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// EntryResponse is the JSON rendering of an entry.
type EntryResponse struct {
	ID             string         `json:"id"`
	WalletID       string         `json:"wallet_id"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	Status         Status         `json:"status"`
	Kind           Kind           `json:"kind"`
	Provider       string         `json:"provider,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	Recipient      string         `json:"recipient,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Description    string         `json:"description"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ToResponse renders e for HTTP and tool callers.
func ToResponse(e Entry) EntryResponse {
	return EntryResponse{
		ID:             e.ID,
		WalletID:       e.WalletID,
		Amount:         e.Amount.String(),
		Currency:       e.Currency,
		Status:         e.Status,
		Kind:           e.Kind,
		Provider:       e.Provider,
		IdempotencyKey: e.IdempotencyKey,
		ReferenceID:    e.ReferenceID,
		Recipient:      e.Recipient,
		Reason:         e.Reason,
		Result:         e.Result,
		Description:    e.Description,
		CreatedAt:      e.CreatedAt,
	}
}

// History lists a wallet's entries, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", DefaultHistoryLimit)
	offset := c.QueryInt("offset", 0)

	entries, err := h.ledger.History(c.UserContext(), c.Params("walletId"), limit, offset)
	if err != nil {
		if errors.Is(err, ErrInvalidPage) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToResponse(e))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"entries": out, "limit": limit, "offset": offset})
}

// Get returns one entry.
func (h *Handler) Get(c *fiber.Ctx) error {
	entry, err := h.ledger.Get(c.UserContext(), c.Params("entryId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "ledger entry not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(ToResponse(entry))
}
