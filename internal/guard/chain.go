package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Chain evaluates guards in declared order. The first failing guard decides
// the outcome and later guards do not run, unless concurrent evaluation is
// enabled, in which case all run and the first failure in declared order is
// still the one reported.
type Chain struct {
	guards     []Guard
	concurrent bool
	logger     *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithConcurrentEvaluation runs every guard in parallel.
func WithConcurrentEvaluation() ChainOption {
	return func(c *Chain) { c.concurrent = true }
}

// WithLogger sets the logger used for rejections.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChain builds a chain. An empty guard list is a configuration error.
func NewChain(guards []Guard, opts ...ChainOption) (*Chain, error) {
	if len(guards) == 0 {
		return nil, ErrNoGuards
	}
	seen := make(map[string]bool, len(guards))
	for _, g := range guards {
		if g == nil {
			return nil, fmt.Errorf("guard chain: nil guard")
		}
		if seen[g.Name()] {
			return nil, fmt.Errorf("guard chain: duplicate guard name %q", g.Name())
		}
		seen[g.Name()] = true
	}

	c := &Chain{guards: append([]Guard(nil), guards...), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Evaluate returns nil when every guard passes, otherwise a *Violation.
// Unless in.DryRun is set, the attempt is recorded with every
// AttemptRecorder first, whatever the outcome.
func (c *Chain) Evaluate(ctx context.Context, in Input) error {
	if !in.DryRun {
		in.At = in.at()
		if v := c.record(ctx, in); v != nil {
			return v
		}
	}
	if c.concurrent {
		return c.evaluateConcurrently(ctx, in)
	}
	for _, g := range c.guards {
		if v := c.run(ctx, g, in); v != nil {
			return v
		}
	}
	return nil
}

func (c *Chain) evaluateConcurrently(ctx context.Context, in Input) error {
	results := make([]*Violation, len(c.guards))
	var g errgroup.Group
	for i, gd := range c.guards {
		g.Go(func() error {
			results[i] = c.run(ctx, gd, in)
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range results {
		if v != nil {
			return v
		}
	}
	return nil
}

func (c *Chain) record(ctx context.Context, in Input) *Violation {
	for _, g := range c.guards {
		r, ok := g.(AttemptRecorder)
		if !ok {
			continue
		}
		if err := r.RecordAttempt(ctx, in); err != nil {
			c.logger.Error("recording attempt failed", "guard", g.Name(), "wallet_id", in.WalletID, "error", err)
			return &Violation{Guard: g.Name(), Code: CodeUnavailable, Reason: err.Error()}
		}
	}
	return nil
}

func (c *Chain) run(ctx context.Context, g Guard, in Input) *Violation {
	err := g.Evaluate(ctx, in)
	if err == nil {
		return nil
	}

	var v *Violation
	if !errors.As(err, &v) {
		c.logger.Error("guard evaluation failed", "guard", g.Name(), "wallet_id", in.WalletID, "error", err)
		return &Violation{Guard: g.Name(), Code: CodeUnavailable, Reason: err.Error()}
	}
	c.logger.Info("payment blocked by guard", "guard", v.Guard, "code", v.Code, "wallet_id", in.WalletID, "reason", v.Reason)
	return v
}

// Guards returns the guards in declared order.
func (c *Chain) Guards() []Guard {
	return append([]Guard(nil), c.guards...)
}

// Policies returns the serializable configuration of each guard.
func (c *Chain) Policies() []Policy {
	out := make([]Policy, 0, len(c.guards))
	for _, g := range c.guards {
		out = append(out, g.Policy())
	}
	return out
}
