package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNoTransaction is returned by store operations that must run inside
// Transactor.WithinTx but were called without one.
var ErrNoTransaction = errors.New("operation requires an enclosing transaction")

const commitTimeout = 5 * time.Second

// Transactor runs fn inside a single storage transaction. The transaction is
// carried by the context handed to fn; stores pick it up from there. fn
// returning an error rolls everything back, nil commits. Calls nested inside an
// existing transaction join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// detached returns a context that survives caller cancellation, bounded so a
// stuck commit cannot hang forever.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}
