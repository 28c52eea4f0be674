package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no wallet matches the lookup.
	ErrNotFound = errors.New("wallet not found")
	// ErrDuplicateOwner is returned when the owner already holds a wallet.
	ErrDuplicateOwner = errors.New("owner already has a wallet")
	// ErrInsufficientFunds is returned when a delta would leave the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotLocked is returned when ApplyDelta runs without the wallet lock held
	// by the same transaction.
	ErrNotLocked = errors.New("wallet is not locked by this transaction")
	// ErrInvalidOwner is returned for a blank owner identifier.
	ErrInvalidOwner = errors.New("owner id is required")
)

// Wallet is a stored-value account owned by exactly one principal.
type Wallet struct {
	ID        string
	OwnerID   string
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is a point-in-time view of a wallet's funds.
type Balance struct {
	WalletID string
	Amount   decimal.Decimal
	Currency string
	AsOf     time.Time
}
