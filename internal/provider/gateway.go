package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/guard"
)

var (
	// ErrTransferNotFound is returned by Lookup when the provider has no
	// transfer for the client reference.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrRejected is returned when the provider refuses a request.
	ErrRejected = errors.New("provider rejected request")
	// ErrUnavailable is returned for 5xx responses. The request may or may
	// not have been applied.
	ErrUnavailable = errors.New("provider unavailable")
)

// Transfer states reported by providers. Anything other than StatusFailed
// means the provider accepted the transfer.
const (
	StatusCompleted  = "completed"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
)

// Request describes a funds movement. ClientReference is the payment's
// idempotency key and is how the transfer is found again later.
type Request struct {
	WalletID        string
	Recipient       string
	Amount          decimal.Decimal
	Currency        string
	ClientReference string
	Metadata        map[string]any
}

// Simulation is the outcome of a dry run.
type Simulation struct {
	WouldSucceed bool
	EstimatedFee decimal.Decimal
	Reason       string
}

// Transfer is the provider's record of a funds movement.
type Transfer struct {
	ID              string
	ClientReference string
	Status          string
	Amount          decimal.Decimal
	TxHash          string
	Reason          string
}

// Succeeded reports whether the provider accepted the transfer.
func (t Transfer) Succeeded() bool {
	return t.ID != "" && !strings.EqualFold(t.Status, StatusFailed)
}

// Gateway moves money on an external rail.
type Gateway interface {
	Name() string
	Simulate(ctx context.Context, req Request) (Simulation, error)
	Execute(ctx context.Context, req Request) (Transfer, error)
	Lookup(ctx context.Context, clientReference string) (Transfer, error)
}

// PolicyRegistrar is implemented by providers that enforce guard policies on
// their side as well.
type PolicyRegistrar interface {
	RegisterPolicies(ctx context.Context, walletID string, policies []guard.Policy) error
}
