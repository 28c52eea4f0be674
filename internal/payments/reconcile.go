package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/notification"
)

// Settlement event types delivered by providers.
const (
	EventPaymentSent       = "payment.sent"
	EventTransactionFailed = "transaction.failed"
	EventPaymentReceived   = "payment.received"
)

// SettlementEvent is an asynchronous notification from the provider.
// ClientReference identifies the attempt for outbound events; WalletID and
// Amount describe the credit for inbound ones.
type SettlementEvent struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	ClientReference string    `json:"client_reference,omitempty"`
	TransferID      string    `json:"transfer_id,omitempty"`
	WalletID        string    `json:"wallet_id,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	Sender          string    `json:"sender,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Reconciliation reports what an event changed. Applied is false when the
// event was already reflected in the ledger.
type Reconciliation struct {
	Applied bool          `json:"applied"`
	EntryID string        `json:"entry_id,omitempty"`
	Status  ledger.Status `json:"status,omitempty"`
}

// Reconcile applies a settlement event. Outbound events resolve a pending
// attempt by client reference and never add a second terminal entry;
// inbound credits are applied once per event id.
func (s *Service) Reconcile(ctx context.Context, ev SettlementEvent) (Reconciliation, error) {
	ctx, span := s.tracer.Start(ctx, "payments.Reconcile")
	defer span.End()

	switch ev.Type {
	case EventPaymentSent, EventTransactionFailed:
		return s.resolvePending(ctx, ev)
	case EventPaymentReceived:
		return s.credit(ctx, ev)
	default:
		return Reconciliation{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
}

func (s *Service) resolvePending(ctx context.Context, ev SettlementEvent) (Reconciliation, error) {
	ref := strings.TrimSpace(ev.ClientReference)
	if ref == "" {
		return Reconciliation{}, invalid("client_reference is required for %s", ev.Type)
	}
	entries, err := s.ledger.Attempt(ctx, ref)
	if err != nil {
		return Reconciliation{}, err
	}
	walletID := entries[0].WalletID

	var (
		out      Reconciliation
		terminal ledger.Entry
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Resolution of an attempt always happens under the wallet lock, so
		// re-reading the attempt here sees every earlier resolution.
		if _, err := s.wallets.GetForUpdate(ctx, walletID); err != nil {
			return err
		}
		entries, err := s.ledger.Attempt(ctx, ref)
		if err != nil {
			return err
		}
		opening, last := entries[0], entries[len(entries)-1]
		if last.Status.Terminal() {
			if conflicts(ev.Type, last.Status) {
				s.logger.Warn("settlement event conflicts with recorded outcome, ignoring",
					"event_id", ev.ID, "type", ev.Type, "entry_id", last.ID, "status", last.Status)
			}
			out = Reconciliation{EntryID: last.ID, Status: last.Status}
			return nil
		}

		e := ledger.Entry{
			WalletID:    opening.WalletID,
			Amount:      opening.Amount,
			Currency:    opening.Currency,
			Kind:        ledger.KindDebit,
			Provider:    opening.Provider,
			ReferenceID: opening.ID,
			Recipient:   opening.Recipient,
			Intent:      opening.Intent,
			Description: opening.Description,
			Result: map[string]any{
				"event_id":    ev.ID,
				"transfer_id": ev.TransferID,
				"tx_hash":     ev.TxHash,
			},
		}
		if ev.Type == EventTransactionFailed {
			e.Status = ledger.StatusFailed
			e.Reason = ev.Reason
			e.Result["code"] = codeExecutionFailed
		} else {
			updated, err := s.wallets.ApplyDelta(ctx, opening.WalletID, opening.Amount)
			if err != nil {
				return fmt.Errorf("apply settled debit: %w", err)
			}
			e.Status = ledger.StatusCompleted
			e.Result["amount"] = opening.Amount.Abs().String()
			e.Result["provider_status"] = "settled"
			e.Result["balance_after"] = updated.Balance.String()
		}
		entry, err := s.ledger.Append(ctx, e)
		if err != nil {
			return err
		}
		terminal = entry
		out = Reconciliation{Applied: true, EntryID: entry.ID, Status: entry.Status}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if out.Applied {
		kind := notification.KindPaymentCompleted
		if terminal.Status == ledger.StatusFailed {
			kind = notification.KindPaymentFailed
		}
		s.logger.Info("pending payment reconciled", "event_id", ev.ID, "entry_id", terminal.ID, "status", terminal.Status)
		s.notify(ctx, kind, terminal)
	}
	return out, nil
}

func conflicts(eventType string, status ledger.Status) bool {
	switch eventType {
	case EventPaymentSent:
		return status != ledger.StatusCompleted
	case EventTransactionFailed:
		return status != ledger.StatusFailed && status != ledger.StatusBlocked
	}
	return false
}

func (s *Service) credit(ctx context.Context, ev SettlementEvent) (Reconciliation, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return Reconciliation{}, invalid("event id is required")
	}
	walletID := strings.TrimSpace(ev.WalletID)
	if walletID == "" {
		return Reconciliation{}, invalid("wallet_id is required for %s", ev.Type)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(ev.Amount))
	if err != nil || !amount.IsPositive() {
		return Reconciliation{}, invalid("amount must be a positive decimal")
	}
	key := "webhook:" + ev.ID

	var out Reconciliation
	var credited ledger.Entry
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.wallets.GetForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		currency := strings.ToUpper(strings.TrimSpace(ev.Currency))
		if currency != "" && currency != w.Currency {
			return invalid("currency %s does not match wallet currency %s", currency, w.Currency)
		}

		entry, err := s.ledger.Append(ctx, ledger.Entry{
			WalletID:       walletID,
			Amount:         amount,
			Currency:       w.Currency,
			Status:         ledger.StatusCompleted,
			Kind:           ledger.KindCredit,
			Provider:       s.gateway.Name(),
			IdempotencyKey: key,
			Result: map[string]any{
				"event_id":    ev.ID,
				"sender":      ev.Sender,
				"transfer_id": ev.TransferID,
				"tx_hash":     ev.TxHash,
				"amount":      amount.String(),
			},
			Description: "inbound settlement",
		})
		if err != nil {
			return err
		}
		updated, err := s.wallets.ApplyDelta(ctx, walletID, amount)
		if err != nil {
			return err
		}
		credited = entry
		out = Reconciliation{Applied: true, EntryID: entry.ID, Status: entry.Status}
		s.logger.Info("inbound funds credited", "event_id", ev.ID, "wallet_id", walletID, "balance", updated.Balance.String())
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		entries, lerr := s.ledger.Attempt(ctx, key)
		if lerr != nil {
			return Reconciliation{}, lerr
		}
		return Reconciliation{EntryID: entries[0].ID, Status: entries[0].Status}, nil
	}
	if err != nil {
		return Reconciliation{}, err
	}
	s.notify(ctx, notification.KindFundsReceived, credited)
	return out, nil
}
