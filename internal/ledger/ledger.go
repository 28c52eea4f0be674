package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no entry matches the lookup.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrDuplicateRequest indicates the idempotency key already opened an
	// attempt. Callers recover by replaying the recorded attempt.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrInvalidEntry is returned when an entry fails validation before insert.
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrInvalidPage is returned for a negative history offset.
	ErrInvalidPage = errors.New("invalid history page")
)

const (
	// DefaultHistoryLimit applies when a history query passes no limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps history pages unless overridden.
	MaxHistoryLimit = 1000
)

// Status is the lifecycle state recorded by an entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// Terminal reports whether no further entry may resolve this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

func (s Status) valid() bool {
	return s == StatusPending || s.Terminal()
}

// Kind is the direction of funds.
type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
)

// Entry is one immutable financial event.
//
// The opening entry of a payment attempt carries the idempotency key. A
// follow-up entry that resolves or corrects an earlier one points at it
// through ReferenceID instead.
type Entry struct {
	ID             string
	Sequence       int64
	WalletID       string
	Amount         decimal.Decimal
	Currency       string
	Status         Status
	Kind           Kind
	Provider       string
	IdempotencyKey string
	ReferenceID    string
	Recipient      string
	Reason         string
	Intent         map[string]any
	Result         map[string]any
	Description    string
	CreatedAt      time.Time
}

// Ledger is the append-only audit log. There is deliberately no update or
// delete.
type Ledger interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	History(ctx context.Context, walletID string, limit, offset int) ([]Entry, error)
	Attempt(ctx context.Context, idempotencyKey string) ([]Entry, error)
	Outflow(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error)
}

// Option tunes a ledger backend.
type Option func(*options)

type options struct {
	maxHistory int
	now        func() time.Time
}

// WithMaxHistory overrides the history page cap.
func WithMaxHistory(limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.maxHistory = limit
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{maxHistory: MaxHistoryLimit, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) page(limit, offset int) (int, int, error) {
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset must not be negative", ErrInvalidPage)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > o.maxHistory {
		limit = o.maxHistory
	}
	return limit, offset, nil
}

func validate(e Entry) error {
	switch {
	case e.WalletID == "":
		return fmt.Errorf("%w: wallet id is required", ErrInvalidEntry)
	case e.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidEntry)
	case !e.Status.valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, e.Status)
	case e.Kind == KindDebit && e.Amount.IsPositive():
		return fmt.Errorf("%w: debit amount must not be positive", ErrInvalidEntry)
	case e.Kind == KindCredit && e.Amount.IsNegative():
		return fmt.Errorf("%w: credit amount must not be negative", ErrInvalidEntry)
	case e.Kind != KindDebit && e.Kind != KindCredit:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
	return nil
}
