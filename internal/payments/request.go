package payments

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/provider"
	"github.com/congo-pay/agentpay/internal/wallet"
)

const (
	maxKeyLength   = 255
	maxAmountScale = 18
)

// Request is a payment submitted by an agent. Amount is a decimal string.
// Currency defaults to the wallet's and must match it when given.
type Request struct {
	WalletID       string         `json:"wallet_id"`
	Recipient      string         `json:"recipient"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// payment is a validated request bound to its wallet. It is never mutated
// after prepare returns.
type payment struct {
	walletID    string
	recipient   string
	amount      decimal.Decimal
	currency    string
	key         string
	description string
	metadata    map[string]any
}

// validate checks the shape of the request and parses the amount. The wallet
// is not consulted.
func validate(req Request) (payment, error) {
	p := payment{
		walletID:    strings.TrimSpace(req.WalletID),
		recipient:   guard.NormalizeRecipient(req.Recipient),
		currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		key:         strings.TrimSpace(req.IdempotencyKey),
		description: strings.TrimSpace(req.Description),
		metadata:    req.Metadata,
	}
	if p.walletID == "" {
		return payment{}, invalid("wallet_id is required")
	}
	if p.recipient == "" {
		return payment{}, invalid("recipient is required")
	}

	raw := strings.TrimSpace(req.Amount)
	if raw == "" {
		return payment{}, invalid("amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return payment{}, invalid("amount %q is not a decimal number", raw)
	}
	if !amount.IsPositive() {
		return payment{}, invalid("amount must be positive")
	}
	if -amount.Exponent() > maxAmountScale {
		return payment{}, invalid("amount has more than %d decimal places", maxAmountScale)
	}
	p.amount = amount

	if len(p.key) > maxKeyLength {
		return payment{}, invalid("idempotency_key exceeds %d characters", maxKeyLength)
	}
	if p.key == "" {
		p.key = uuid.New().String()
	}
	return p, nil
}

// bind resolves the currency against the wallet.
func (p payment) bind(w wallet.Wallet) (payment, error) {
	if p.currency == "" {
		p.currency = w.Currency
	}
	if p.currency != w.Currency {
		return payment{}, invalid("currency %s does not match wallet currency %s", p.currency, w.Currency)
	}
	return p, nil
}

func (p payment) guardInput(dryRun bool) guard.Input {
	return guard.Input{
		WalletID:  p.walletID,
		Recipient: p.recipient,
		Amount:    p.amount,
		Currency:  p.currency,
		DryRun:    dryRun,
	}
}

func (p payment) providerRequest() provider.Request {
	return provider.Request{
		WalletID:        p.walletID,
		Recipient:       p.recipient,
		Amount:          p.amount,
		Currency:        p.currency,
		ClientReference: p.key,
		Metadata:        p.metadata,
	}
}

// intent is the original request as recorded on ledger entries.
func (p payment) intent() map[string]any {
	out := map[string]any{
		"wallet_id": p.walletID,
		"recipient": p.recipient,
		"amount":    p.amount.String(),
		"currency":  p.currency,
	}
	if p.description != "" {
		out["description"] = p.description
	}
	if len(p.metadata) > 0 {
		out["metadata"] = p.metadata
	}
	return out
}

// entry builds a debit entry for this payment. Only the opening entry of an
// attempt carries the idempotency key.
func (p payment) entry(status ledger.Status, providerName string) ledger.Entry {
	return ledger.Entry{
		WalletID:    p.walletID,
		Amount:      p.amount.Neg(),
		Currency:    p.currency,
		Status:      status,
		Kind:        ledger.KindDebit,
		Provider:    providerName,
		Recipient:   p.recipient,
		Intent:      p.intent(),
		Description: p.description,
	}
}

func (p payment) opening(status ledger.Status, providerName string) ledger.Entry {
	e := p.entry(status, providerName)
	e.IdempotencyKey = p.key
	return e
}

func (p payment) followUp(status ledger.Status, providerName, referenceID string) ledger.Entry {
	e := p.entry(status, providerName)
	e.ReferenceID = referenceID
	return e
}
