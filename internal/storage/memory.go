package storage

import (
	"context"
	"sync"
)

type memTxKey struct{}

// MemTx is the in-memory transaction handle used by the memory stores. Stores
// stage writes as commit hooks and register lock releases as end hooks.
type MemTx struct {
	mu       sync.Mutex
	onCommit []func()
	onEnd    []func()
	values   map[any]any
}

// OnCommit registers fn to run when the transaction commits.
func (t *MemTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, fn)
}

// OnEnd registers fn to run when the transaction ends, committed or not.
// End hooks run in reverse registration order.
func (t *MemTx) OnEnd(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnd = append(t.onEnd, fn)
}

// Value returns transaction-scoped state stored under key.
func (t *MemTx) Value(key any) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[key]
	return v, ok
}

// SetValue stores transaction-scoped state.
func (t *MemTx) SetValue(key, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

func (t *MemTx) commit() {
	t.mu.Lock()
	hooks := t.onCommit
	t.onCommit = nil
	t.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (t *MemTx) end() {
	t.mu.Lock()
	hooks := t.onEnd
	t.onEnd = nil
	t.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// MemTxFrom returns the in-memory transaction carried by ctx.
func MemTxFrom(ctx context.Context) (*MemTx, bool) {
	tx, ok := ctx.Value(memTxKey{}).(*MemTx)
	return tx, ok
}

// MemoryTransactor provides transactions for the in-memory stores used in
// development and tests.
type MemoryTransactor struct {
	commitMu sync.Mutex
}

// NewMemoryTransactor constructs an in-memory transactor.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// WithinTx implements Transactor.
func (m *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := MemTxFrom(ctx); ok {
		return fn(ctx)
	}

	tx := &MemTx{values: make(map[any]any)}
	defer tx.end()

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	// Commits are applied one at a time so the hooks of one transaction never
	// interleave with another's.
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	tx.commit()
	return nil
}
