package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const rateWindow = time.Minute

// AttemptCounter keeps a sliding window of payment attempts per wallet.
type AttemptCounter interface {
	// Record adds an attempt at `at` and returns the number of attempts in the
	// window ending at `at`, this one included.
	Record(ctx context.Context, walletID string, at time.Time, window time.Duration) (int, error)
	// Count returns the attempts in the window without recording one.
	Count(ctx context.Context, walletID string, at time.Time, window time.Duration) (int, error)
}

// RateLimit caps payment attempts per wallet per minute.
type RateLimit struct {
	name    string
	max     int
	counter AttemptCounter
}

// NewRateLimit builds a per-minute attempt cap.
func NewRateLimit(name string, maxPerMinute int, counter AttemptCounter) *RateLimit {
	if name == "" {
		name = string(KindRateLimit)
	}
	return &RateLimit{name: name, max: maxPerMinute, counter: counter}
}

func (g *RateLimit) Name() string { return g.name }

func (g *RateLimit) Policy() Policy {
	return Policy{Kind: KindRateLimit, Name: g.name, MaxPerMinute: g.max}
}

// RecordAttempt adds the attempt to the wallet's window. The chain calls it
// for every real attempt before any guard evaluates, so attempts blocked by
// an earlier guard still count.
func (g *RateLimit) RecordAttempt(ctx context.Context, in Input) error {
	if _, err := g.counter.Record(ctx, in.WalletID, in.at(), rateWindow); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Evaluate counts the window. A recorded attempt is already part of it; a
// dry run counts as the one that would come next.
func (g *RateLimit) Evaluate(ctx context.Context, in Input) error {
	n, err := g.counter.Count(ctx, in.WalletID, in.at(), rateWindow)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if in.DryRun {
		n++
	}
	if n > g.max {
		return reject(g.name, CodeRateLimitExceeded, "%d attempts in the last minute exceeds the limit of %d", n, g.max)
	}
	return nil
}

// MemoryCounter is a process-local AttemptCounter.
type MemoryCounter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryCounter constructs an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{attempts: make(map[string][]time.Time)}
}

func (c *MemoryCounter) Record(_ context.Context, walletID string, at time.Time, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pruneLocked(walletID, at, window)
	kept = append(kept, at)
	c.attempts[walletID] = kept
	return len(kept), nil
}

func (c *MemoryCounter) Count(_ context.Context, walletID string, at time.Time, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pruneLocked(walletID, at, window)), nil
}

func (c *MemoryCounter) pruneLocked(walletID string, at time.Time, window time.Duration) []time.Time {
	cutoff := at.Add(-window)
	kept := c.attempts[walletID][:0]
	for _, ts := range c.attempts[walletID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.attempts[walletID] = kept
	return kept
}
