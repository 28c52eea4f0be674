package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrBudgetExceeded is returned by per-transaction and window budget guards.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrRateLimitExceeded is returned when a wallet makes too many attempts.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrUnauthorizedRecipient is returned when the recipient is not whitelisted.
	ErrUnauthorizedRecipient = errors.New("unauthorized recipient")
	// ErrGuardUnavailable is returned when a guard could not reach its state
	// and the payment was refused rather than let through.
	ErrGuardUnavailable = errors.New("guard unavailable")
	// ErrNoGuards is returned when a chain would be built without any guard.
	ErrNoGuards = errors.New("at least one guard must be configured")
)

// Code identifies the kind of a guard rejection in ledger records and APIs.
type Code string

const (
	CodeBudgetExceeded        Code = "budget_exceeded"
	CodeRateLimitExceeded     Code = "rate_limit_exceeded"
	CodeUnauthorizedRecipient Code = "unauthorized_recipient"
	CodeUnavailable           Code = "guard_unavailable"
)

// Err returns the sentinel error for the code.
func (c Code) Err() error {
	switch c {
	case CodeBudgetExceeded:
		return ErrBudgetExceeded
	case CodeRateLimitExceeded:
		return ErrRateLimitExceeded
	case CodeUnauthorizedRecipient:
		return ErrUnauthorizedRecipient
	default:
		return ErrGuardUnavailable
	}
}

// Input is what every guard sees about a payment attempt.
type Input struct {
	WalletID  string
	Recipient string
	Amount    decimal.Decimal
	Currency  string
	At        time.Time
	// DryRun evaluates without recording anything, for simulations.
	DryRun bool
}

func (in Input) at() time.Time {
	if in.At.IsZero() {
		return time.Now().UTC()
	}
	return in.At
}

// Guard is a single payment policy.
type Guard interface {
	Name() string
	Policy() Policy
	// Evaluate returns nil to pass, a *Violation to reject, or any other
	// error when the guard could not decide.
	Evaluate(ctx context.Context, in Input) error
}

// AttemptRecorder is implemented by guards that keep attempt history.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, in Input) error
}

// Violation is a guard rejection.
type Violation struct {
	Guard  string
	Code   Code
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guard %s: %s", v.Guard, v.Reason)
}

// Unwrap exposes the sentinel for errors.Is.
func (v *Violation) Unwrap() error {
	return v.Code.Err()
}

func reject(guard string, code Code, format string, args ...any) *Violation {
	return &Violation{Guard: guard, Code: code, Reason: fmt.Sprintf(format, args...)}
}
