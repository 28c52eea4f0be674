package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/notification"
	"github.com/congo-pay/agentpay/internal/provider"
	"github.com/congo-pay/agentpay/internal/storage"
	"github.com/congo-pay/agentpay/internal/wallet"
)

const (
	defaultLookupTimeout = 10 * time.Second
	defaultIntentTTL     = 15 * time.Minute
	tracerName           = "github.com/congo-pay/agentpay/internal/payments"
)

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Transactor storage.Transactor
	Wallets    wallet.Repository
	Ledger     ledger.Ledger
	Guards     *guard.Chain
	Gateway    provider.Gateway
	Intents    IntentStore
	Notifier   notification.Notifier
	Logger     *slog.Logger

	// LookupTimeout bounds the provider re-query after a cancelled execution.
	LookupTimeout time.Duration
	IntentTTL     time.Duration
	Now           func() time.Time
}

// Service orchestrates guarded payments.
type Service struct {
	tx       storage.Transactor
	wallets  wallet.Repository
	walletSv *wallet.Service
	ledger   ledger.Ledger
	guards   *guard.Chain
	gateway  provider.Gateway
	intents  IntentStore
	notifier notification.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer

	lookupTimeout time.Duration
	intentTTL     time.Duration
	now           func() time.Time
}

// NewService constructs a payment orchestrator. A nil guard chain is a
// configuration error.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Transactor == nil:
		return nil, errors.New("payments: transactor is required")
	case d.Wallets == nil:
		return nil, errors.New("payments: wallet repository is required")
	case d.Ledger == nil:
		return nil, errors.New("payments: ledger is required")
	case d.Guards == nil:
		return nil, guard.ErrNoGuards
	case d.Gateway == nil:
		return nil, errors.New("payments: provider gateway is required")
	}

	s := &Service{
		tx:            d.Transactor,
		wallets:       d.Wallets,
		walletSv:      wallet.NewService(d.Wallets),
		ledger:        d.Ledger,
		guards:        d.Guards,
		gateway:       d.Gateway,
		intents:       d.Intents,
		notifier:      d.Notifier,
		logger:        d.Logger,
		tracer:        otel.Tracer(tracerName),
		lookupTimeout: d.LookupTimeout,
		intentTTL:     d.IntentTTL,
		now:           d.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.intents == nil {
		s.intents = NewMemoryIntentStore()
	}
	if s.lookupTimeout <= 0 {
		s.lookupTimeout = defaultLookupTimeout
	}
	if s.intentTTL <= 0 {
		s.intentTTL = defaultIntentTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Result describes the recorded outcome of a payment.
type Result struct {
	EntryID        string          `json:"entry_id"`
	PendingEntryID string          `json:"pending_entry_id,omitempty"`
	WalletID       string          `json:"wallet_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         ledger.Status   `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Recipient      string          `json:"recipient"`
	TransferID     string          `json:"transfer_id,omitempty"`
	ProviderStatus string          `json:"provider_status,omitempty"`
	TxHash         string          `json:"tx_hash,omitempty"`
	BalanceAfter   string          `json:"balance_after,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Replayed       bool            `json:"replayed"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// Pay runs a payment through validation, guards, simulation and execution.
// Every attempt leaves exactly one terminal ledger entry, except when the
// provider outcome is unknown, in which case the pending entry stays open and
// ErrPaymentPending is returned. A repeated idempotency key replays the
// recorded outcome.
func (s *Service) Pay(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "payments.Pay", trace.WithAttributes(
		attribute.String("wallet.id", req.WalletID),
		attribute.String("payment.amount", req.Amount),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("payment.status", string(res.Status)),
			attribute.Bool("payment.replayed", res.Replayed),
		)
		if err != nil && !errors.Is(err, ErrPaymentPending) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.String("payment.idempotency_key", p.key))

	recorded, err := s.recorded(ctx, p.key)
	if err != nil {
		return Result{}, err
	}
	if recorded {
		return s.replay(ctx, p)
	}

	w, err := s.wallets.Get(ctx, p.walletID)
	if err != nil {
		return Result{}, err
	}
	if p, err = p.bind(w); err != nil {
		return Result{}, err
	}

	if err := s.guards.Evaluate(ctx, p.guardInput(false)); err != nil {
		var v *guard.Violation
		if !errors.As(err, &v) {
			v = &guard.Violation{Guard: "chain", Code: guard.CodeUnavailable, Reason: err.Error()}
		}
		return s.block(ctx, p, v.Reason, map[string]any{"guard": v.Guard, "code": string(v.Code)}, v)
	}

	sim, err := s.gateway.Simulate(ctx, p.providerRequest())
	if err != nil || !sim.WouldSucceed {
		reason := sim.Reason
		if err != nil {
			reason = err.Error()
		}
		if reason == "" {
			reason = "provider simulation reported failure"
		}
		return s.block(ctx, p, reason, map[string]any{"stage": "simulation", "code": codeSimulationFailed},
			fmt.Errorf("%w: %s", ErrSimulationFailed, reason))
	}

	res, err = s.execute(ctx, p)
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		return s.replay(ctx, p)
	}
	return res, err
}

// recorded reports whether the key already opened an attempt.
func (s *Service) recorded(ctx context.Context, key string) (bool, error) {
	_, err := s.ledger.Attempt(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ledger.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("look up idempotency key: %w", err)
	}
}

// block records a blocked attempt and returns cause. A concurrent duplicate
// of the same key replays instead.
func (s *Service) block(ctx context.Context, p payment, reason string, detail map[string]any, cause error) (Result, error) {
	e := p.opening(ledger.StatusBlocked, s.gateway.Name())
	e.Reason = reason
	e.Result = detail
	entry, err := s.ledger.Append(ctx, e)
	if errors.Is(err, ledger.ErrDuplicateRequest) {
		return s.replay(ctx, p)
	}
	if err != nil {
		return Result{}, fmt.Errorf("record blocked payment: %w", err)
	}
	s.logger.Info("payment blocked", "wallet_id", p.walletID, "entry_id", entry.ID, "reason", reason)
	s.notify(ctx, notification.KindPaymentBlocked, entry)
	return resultFrom(entry, entry), cause
}

// execute runs the locked section: balance check, pending entry, provider
// call and the terminal entry, all in one transaction.
func (s *Service) execute(ctx context.Context, p payment) (Result, error) {
	var (
		res      Result
		outcome  error
		terminal ledger.Entry
		kind     string
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.wallets.GetForUpdate(ctx, p.walletID)
		if err != nil {
			return err
		}

		if w.Balance.LessThan(p.amount) {
			e := p.opening(ledger.StatusFailed, s.gateway.Name())
			e.Reason = fmt.Sprintf("balance %s is below amount %s", w.Balance, p.amount)
			e.Result = map[string]any{
				"code":    codeInsufficientFunds,
				"balance": w.Balance.String(),
				"amount":  p.amount.String(),
			}
			entry, err := s.ledger.Append(ctx, e)
			if err != nil {
				return err
			}
			terminal, kind = entry, notification.KindPaymentFailed
			res, outcome = resultFrom(entry, entry), wallet.ErrInsufficientFunds
			return nil
		}

		pending, err := s.ledger.Append(ctx, p.opening(ledger.StatusPending, s.gateway.Name()))
		if err != nil {
			return err
		}

		transfer, execErr := s.gateway.Execute(ctx, p.providerRequest())

		// The provider has been called. Everything from here on must be
		// recorded even if the caller has gone away.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookupTimeout)
		defer cancel()

		// Only a definitive rejection settles the attempt without asking the
		// provider again. Timeouts, resets, 5xx and cancellation leave the
		// outcome unknown.
		if execErr != nil && !errors.Is(execErr, provider.ErrRejected) {
			s.logger.Warn("provider outcome unknown, re-querying", "wallet_id", p.walletID, "key", p.key, "error", execErr)
			found, lookupErr := s.gateway.Lookup(rctx, p.key)
			switch {
			case lookupErr == nil:
				transfer, execErr = found, nil
			case errors.Is(lookupErr, provider.ErrTransferNotFound):
				execErr = fmt.Errorf("provider has no transfer after %v: %w", execErr, lookupErr)
			default:
				s.logger.Warn("payment outcome unknown, leaving pending", "wallet_id", p.walletID, "entry_id", pending.ID, "error", lookupErr)
				terminal, kind = pending, notification.KindPaymentPending
				res, outcome = resultFrom(pending, pending), ErrPaymentPending
				return nil
			}
		}

		if execErr == nil && !transfer.Succeeded() {
			reason := transfer.Reason
			if reason == "" {
				reason = "provider reported status " + transfer.Status
			}
			execErr = errors.New(reason)
		}

		if execErr != nil {
			e := p.followUp(ledger.StatusFailed, s.gateway.Name(), pending.ID)
			e.Reason = execErr.Error()
			e.Result = map[string]any{"code": codeExecutionFailed}
			if transfer.ID != "" {
				e.Result["transfer_id"] = transfer.ID
				e.Result["provider_status"] = transfer.Status
			}
			entry, err := s.ledger.Append(rctx, e)
			if err != nil {
				return err
			}
			terminal, kind = entry, notification.KindPaymentFailed
			res, outcome = resultFrom(pending, entry), fmt.Errorf("%w: %s", ErrPaymentExecutionFailed, execErr)
			return nil
		}

		updated, err := s.wallets.ApplyDelta(rctx, p.walletID, p.amount.Neg())
		if err != nil {
			s.logger.Error("balance update failed after provider success", "wallet_id", p.walletID, "transfer_id", transfer.ID, "error", err)
			return fmt.Errorf("apply debit: %w", err)
		}
		e := p.followUp(ledger.StatusCompleted, s.gateway.Name(), pending.ID)
		e.Result = map[string]any{
			"transfer_id":     transfer.ID,
			"provider_status": transfer.Status,
			"tx_hash":         transfer.TxHash,
			"amount":          p.amount.String(),
			"balance_after":   updated.Balance.String(),
		}
		entry, err := s.ledger.Append(rctx, e)
		if err != nil {
			return err
		}
		terminal, kind = entry, notification.KindPaymentCompleted
		res = resultFrom(pending, entry)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch {
	case outcome == nil:
		s.logger.Info("payment completed", "wallet_id", p.walletID, "entry_id", terminal.ID, "transfer_id", res.TransferID)
	case errors.Is(outcome, ErrPaymentPending):
	default:
		s.logger.Info("payment failed", "wallet_id", p.walletID, "entry_id", terminal.ID, "error", outcome)
	}
	s.notify(ctx, kind, terminal)
	return res, outcome
}

// notify publishes a ledger outcome. Delivery failures are logged only.
func (s *Service) notify(ctx context.Context, kind string, e ledger.Entry) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	msg := notification.Message{
		Kind:           kind,
		Destination:    e.WalletID,
		Body:           fmt.Sprintf("%s %s %s to %s", e.Status, e.Amount.Abs(), e.Currency, e.Recipient),
		EntryID:        e.ID,
		WalletID:       e.WalletID,
		Amount:         e.Amount.String(),
		Currency:       e.Currency,
		Status:         string(e.Status),
		IdempotencyKey: e.IdempotencyKey,
		OccurredAt:     e.CreatedAt,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "entry_id", e.ID, "error", err)
	}
}

// resultFrom builds a Result from the opening entry of an attempt and its
// latest entry.
func resultFrom(opening, last ledger.Entry) Result {
	res := Result{
		EntryID:        last.ID,
		WalletID:       opening.WalletID,
		IdempotencyKey: opening.IdempotencyKey,
		Status:         last.Status,
		Amount:         opening.Amount.Abs(),
		Currency:       opening.Currency,
		Recipient:      opening.Recipient,
		Reason:         last.Reason,
		RecordedAt:     last.CreatedAt,
	}
	if opening.Status == ledger.StatusPending {
		res.PendingEntryID = opening.ID
	}
	res.TransferID = stringField(last.Result, "transfer_id")
	res.ProviderStatus = stringField(last.Result, "provider_status")
	res.TxHash = stringField(last.Result, "tx_hash")
	res.BalanceAfter = stringField(last.Result, "balance_after")
	return res
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
