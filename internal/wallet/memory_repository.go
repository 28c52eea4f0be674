package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/storage"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Wallet
	owners  map[string]string

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// txState is what one transaction holds against this repository.
type txState struct {
	held   map[string]bool
	staged map[string]decimal.Decimal
}

type txStateKey struct{ repo *memoryRepository }

// NewMemoryRepository constructs an in-memory repository for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage: make(map[string]Wallet),
		owners:  make(map[string]string),
		locks:   make(map[string]chan struct{}),
	}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.owners[wallet.OwnerID]; exists {
		return ErrDuplicateOwner
	}
	r.storage[wallet.ID] = wallet
	r.owners[wallet.OwnerID] = wallet.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	r.mu.RLock()
	id, ok := r.owners[ownerID]
	r.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *memoryRepository) GetForUpdate(ctx context.Context, id string) (Wallet, error) {
	tx, ok := storage.MemTxFrom(ctx)
	if !ok {
		return Wallet{}, storage.ErrNoTransaction
	}
	wallet, err := r.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}

	state := r.state(tx)
	if !state.held[id] {
		lock := r.lockFor(id)
		select {
		case lock <- struct{}{}:
		case <-ctx.Done():
			return Wallet{}, ctx.Err()
		}
		state.held[id] = true
		tx.OnEnd(func() { <-lock })
		// Re-read: the previous holder may have committed while we waited.
		if wallet, err = r.Get(ctx, id); err != nil {
			return Wallet{}, err
		}
	}

	if staged, ok := state.staged[id]; ok {
		wallet.Balance = staged
	}
	return wallet, nil
}

func (r *memoryRepository) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (Wallet, error) {
	tx, ok := storage.MemTxFrom(ctx)
	if !ok {
		return Wallet{}, storage.ErrNoTransaction
	}
	state := r.state(tx)
	if !state.held[id] {
		return Wallet{}, ErrNotLocked
	}

	wallet, err := r.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	current := wallet.Balance
	_, alreadyStaged := state.staged[id]
	if alreadyStaged {
		current = state.staged[id]
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return Wallet{}, ErrInsufficientFunds
	}
	state.staged[id] = next

	if !alreadyStaged {
		tx.OnCommit(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			w := r.storage[id]
			w.Balance = state.staged[id]
			w.UpdatedAt = time.Now().UTC()
			r.storage[id] = w
		})
	}

	wallet.Balance = next
	return wallet, nil
}

func (r *memoryRepository) state(tx *storage.MemTx) *txState {
	key := txStateKey{repo: r}
	if v, ok := tx.Value(key); ok {
		return v.(*txState)
	}
	st := &txState{held: make(map[string]bool), staged: make(map[string]decimal.Decimal)}
	tx.SetValue(key, st)
	return st
}

func (r *memoryRepository) lockFor(id string) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = make(chan struct{}, 1)
		r.locks[id] = lock
	}
	return lock
}
