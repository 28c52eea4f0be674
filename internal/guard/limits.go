package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SingleTransactionLimit caps the amount of one payment.
type SingleTransactionLimit struct {
	name  string
	limit decimal.Decimal
}

// NewSingleTransactionLimit builds a per-transaction cap.
func NewSingleTransactionLimit(name string, limit decimal.Decimal) *SingleTransactionLimit {
	if name == "" {
		name = string(KindSingleTxLimit)
	}
	return &SingleTransactionLimit{name: name, limit: limit}
}

func (g *SingleTransactionLimit) Name() string { return g.name }

func (g *SingleTransactionLimit) Policy() Policy {
	return Policy{Kind: KindSingleTxLimit, Name: g.name, Limit: g.limit.String()}
}

func (g *SingleTransactionLimit) Evaluate(_ context.Context, in Input) error {
	if in.Amount.GreaterThan(g.limit) {
		return reject(g.name, CodeBudgetExceeded, "amount %s exceeds per-transaction limit %s", in.Amount, g.limit)
	}
	return nil
}

// OutflowSource reports how much a wallet has spent since a point in time.
// The ledger implements it.
type OutflowSource interface {
	Outflow(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error)
}

// WindowBudget caps cumulative outflow over a trailing window.
type WindowBudget struct {
	name   string
	kind   Kind
	window time.Duration
	limit  decimal.Decimal
	source OutflowSource
}

// NewDailyBudget caps outflow over the trailing 24 hours.
func NewDailyBudget(name string, limit decimal.Decimal, source OutflowSource) *WindowBudget {
	return newWindowBudget(name, KindDailyBudget, 24*time.Hour, limit, source)
}

// NewHourlyBudget caps outflow over the trailing hour.
func NewHourlyBudget(name string, limit decimal.Decimal, source OutflowSource) *WindowBudget {
	return newWindowBudget(name, KindHourlyBudget, time.Hour, limit, source)
}

func newWindowBudget(name string, kind Kind, window time.Duration, limit decimal.Decimal, source OutflowSource) *WindowBudget {
	if name == "" {
		name = string(kind)
	}
	return &WindowBudget{name: name, kind: kind, window: window, limit: limit, source: source}
}

func (g *WindowBudget) Name() string { return g.name }

func (g *WindowBudget) Policy() Policy {
	return Policy{Kind: g.kind, Name: g.name, Limit: g.limit.String()}
}

func (g *WindowBudget) Evaluate(ctx context.Context, in Input) error {
	spent, err := g.source.Outflow(ctx, in.WalletID, in.at().Add(-g.window))
	if err != nil {
		return fmt.Errorf("load outflow: %w", err)
	}
	projected := spent.Add(in.Amount)
	if projected.GreaterThan(g.limit) {
		return reject(g.name, CodeBudgetExceeded, "outflow of %s over the last %s would exceed limit %s (already spent %s)",
			projected, g.window, g.limit, spent)
	}
	return nil
}
