package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindPaymentCompleted indicates funds left a wallet.
	KindPaymentCompleted = "payment.completed"
	// KindPaymentFailed indicates the provider refused or the wallet lacked funds.
	KindPaymentFailed = "payment.failed"
	// KindPaymentBlocked indicates a guard or simulation stopped the payment.
	KindPaymentBlocked = "payment.blocked"
	// KindPaymentPending indicates the outcome awaits reconciliation.
	KindPaymentPending = "payment.pending"
	// KindFundsReceived indicates a settled inbound credit.
	KindFundsReceived = "funds.received"
)

// Message describes a ledger outcome worth telling downstream systems about.
type Message struct {
	Kind           string    `json:"kind"`
	Destination    string    `json:"destination"`
	Body           string    `json:"body"`
	EntryID        string    `json:"entry_id"`
	WalletID       string    `json:"wallet_id"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"destination", message.Destination,
		"wallet_id", message.WalletID,
		"entry_id", message.EntryID,
		"amount", message.Amount,
		"status", message.Status,
		"body", message.Body,
	)
	return nil
}
