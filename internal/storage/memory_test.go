package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryTransactorCommitRunsHooksInOrder(t *testing.T) {
	tr := NewMemoryTransactor()
	var calls []string

	err := tr.WithinTx(context.Background(), func(ctx context.Context) error {
		tx, ok := MemTxFrom(ctx)
		if !ok {
			t.Fatalf("expected transaction in context")
		}
		tx.OnEnd(func() { calls = append(calls, "end-1") })
		tx.OnEnd(func() { calls = append(calls, "end-2") })
		tx.OnCommit(func() { calls = append(calls, "commit") })
		return nil
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}

	want := []string{"commit", "end-2", "end-1"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v got %v", want, calls)
		}
	}
}

func TestMemoryTransactorRollbackSkipsCommitHooks(t *testing.T) {
	tr := NewMemoryTransactor()
	boom := errors.New("boom")
	committed, ended := false, false

	err := tr.WithinTx(context.Background(), func(ctx context.Context) error {
		tx, _ := MemTxFrom(ctx)
		tx.OnCommit(func() { committed = true })
		tx.OnEnd(func() { ended = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if committed {
		t.Fatalf("commit hook ran on rollback")
	}
	if !ended {
		t.Fatalf("end hook did not run on rollback")
	}
}

func TestMemoryTransactorNestedCallsJoin(t *testing.T) {
	tr := NewMemoryTransactor()

	err := tr.WithinTx(context.Background(), func(ctx context.Context) error {
		outer, _ := MemTxFrom(ctx)
		return tr.WithinTx(ctx, func(ctx context.Context) error {
			inner, _ := MemTxFrom(ctx)
			if inner != outer {
				t.Fatalf("nested call opened a new transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("within tx: %v", err)
	}
}
