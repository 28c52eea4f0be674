package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/storage"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	opts     options
	seq      int64
	entries  []Entry
	byID     map[string]int
	byKey    map[string]string
	reserved map[string]bool
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and local runs. Appends made inside a storage transaction become
// visible only when it commits.
func NewInMemory(opts ...Option) Ledger {
	return &inMemoryLedger{
		opts:     buildOptions(opts),
		byID:     make(map[string]int),
		byKey:    make(map[string]string),
		reserved: make(map[string]bool),
	}
}

func (l *inMemoryLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := validate(entry); err != nil {
		return Entry{}, err
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = l.opts.now().UTC()

	tx, inTx := storage.MemTxFrom(ctx)
	if !inTx {
		l.mu.Lock()
		defer l.mu.Unlock()
		if entry.IdempotencyKey != "" && l.keyTaken(entry.IdempotencyKey) {
			return Entry{}, ErrDuplicateRequest
		}
		return l.insertLocked(entry), nil
	}

	if key := entry.IdempotencyKey; key != "" {
		l.mu.Lock()
		if l.keyTaken(key) {
			l.mu.Unlock()
			return Entry{}, ErrDuplicateRequest
		}
		l.reserved[key] = true
		l.mu.Unlock()
		tx.OnEnd(func() {
			l.mu.Lock()
			delete(l.reserved, key)
			l.mu.Unlock()
		})
	}

	tx.OnCommit(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.insertLocked(entry)
	})
	return entry, nil
}

func (l *inMemoryLedger) keyTaken(key string) bool {
	_, committed := l.byKey[key]
	return committed || l.reserved[key]
}

func (l *inMemoryLedger) insertLocked(entry Entry) Entry {
	l.seq++
	entry.Sequence = l.seq
	l.byID[entry.ID] = len(l.entries)
	if entry.IdempotencyKey != "" {
		l.byKey[entry.IdempotencyKey] = entry.ID
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *inMemoryLedger) Get(_ context.Context, id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return l.entries[idx], nil
}

func (l *inMemoryLedger) History(_ context.Context, walletID string, limit, offset int) ([]Entry, error) {
	limit, offset, err := l.opts.page(limit, offset)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	var matched []Entry
	for _, e := range l.entries {
		if e.WalletID == walletID {
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Sequence > matched[j].Sequence
	})

	if offset >= len(matched) {
		return []Entry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (l *inMemoryLedger) Attempt(_ context.Context, idempotencyKey string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	openingID, ok := l.byKey[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	var out []Entry
	for _, e := range l.entries {
		if e.ID == openingID || e.ReferenceID == openingID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (l *inMemoryLedger) Outflow(_ context.Context, walletID string, since time.Time) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	resolved := make(map[string]bool)
	for _, e := range l.entries {
		if e.ReferenceID != "" {
			resolved[e.ReferenceID] = true
		}
	}

	total := decimal.Zero
	for _, e := range l.entries {
		if e.WalletID != walletID || e.Kind != KindDebit || e.CreatedAt.Before(since) {
			continue
		}
		if e.Status == StatusCompleted || (e.Status == StatusPending && !resolved[e.ID]) {
			total = total.Sub(e.Amount)
		}
	}
	return total, nil
}
