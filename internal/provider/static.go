package provider

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/guard"
)

// Static is an in-process provider that approves every well-formed request.
// It backs local development and tests. Transfers are idempotent per client
// reference like a real provider's.
type Static struct {
	mu         sync.Mutex
	fee        decimal.Decimal
	transfers  map[string]Transfer
	registered map[string][]guard.Policy
}

// NewStatic builds a static provider charging a flat fee estimate.
func NewStatic(fee decimal.Decimal) *Static {
	return &Static{
		fee:        fee,
		transfers:  make(map[string]Transfer),
		registered: make(map[string][]guard.Policy),
	}
}

// Name implements Gateway.
func (*Static) Name() string { return "static" }

// Simulate approves any positive amount.
func (s *Static) Simulate(_ context.Context, req Request) (Simulation, error) {
	if !req.Amount.IsPositive() {
		return Simulation{WouldSucceed: false, Reason: "amount must be positive"}, nil
	}
	return Simulation{WouldSucceed: true, EstimatedFee: s.fee}, nil
}

// Execute records a completed transfer with a synthetic reference.
func (s *Static) Execute(_ context.Context, req Request) (Transfer, error) {
	if req.ClientReference == "" {
		return Transfer{}, fmt.Errorf("%w: client reference is required", ErrRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transfers[req.ClientReference]; ok {
		return t, nil
	}

	id := uuid.NewString()
	t := Transfer{
		ID:              id,
		ClientReference: req.ClientReference,
		Status:          StatusCompleted,
		Amount:          req.Amount,
		TxHash:          common.BytesToHash(sha256Sum(id)).Hex(),
	}
	s.transfers[req.ClientReference] = t
	return t, nil
}

// Lookup returns the transfer recorded for clientReference.
func (s *Static) Lookup(_ context.Context, clientReference string) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[clientReference]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return t, nil
}

// RegisterPolicies remembers the policies attached to a wallet.
func (s *Static) RegisterPolicies(_ context.Context, walletID string, policies []guard.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[walletID] = append([]guard.Policy(nil), policies...)
	return nil
}

// Policies returns what was registered for walletID.
func (s *Static) Policies(walletID string) []guard.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]guard.Policy(nil), s.registered[walletID]...)
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
