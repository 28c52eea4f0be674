package payments

import (
	"context"
	"fmt"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/wallet"
)

// replay returns the recorded outcome of the attempt opened by p's key
// without touching guards, the wallet or the provider.
func (s *Service) replay(ctx context.Context, p payment) (Result, error) {
	entries, err := s.ledger.Attempt(ctx, p.key)
	if err != nil {
		return Result{}, fmt.Errorf("load recorded attempt: %w", err)
	}
	opening, last := entries[0], entries[len(entries)-1]
	if opening.WalletID != p.walletID {
		return Result{}, invalid("idempotency key %q was already used for another wallet", p.key)
	}

	res := resultFrom(opening, last)
	res.Replayed = true
	s.logger.Debug("replaying recorded payment", "wallet_id", p.walletID, "key", p.key, "status", last.Status)
	return res, outcomeErr(last)
}

// outcomeErr rebuilds the error a terminal entry was originally returned
// with.
func outcomeErr(e ledger.Entry) error {
	code := stringField(e.Result, "code")
	switch e.Status {
	case ledger.StatusCompleted:
		return nil
	case ledger.StatusBlocked:
		if code == codeSimulationFailed {
			return fmt.Errorf("%w: %s", ErrSimulationFailed, e.Reason)
		}
		return &guard.Violation{Guard: stringField(e.Result, "guard"), Code: guard.Code(code), Reason: e.Reason}
	case ledger.StatusFailed:
		if code == codeInsufficientFunds {
			return wallet.ErrInsufficientFunds
		}
		return fmt.Errorf("%w: %s", ErrPaymentExecutionFailed, e.Reason)
	default:
		return ErrPaymentPending
	}
}
