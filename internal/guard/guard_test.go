package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fixedOutflow struct {
	spent decimal.Decimal
	since time.Time
	err   error
}

func (f *fixedOutflow) Outflow(_ context.Context, _ string, since time.Time) (decimal.Decimal, error) {
	f.since = since
	return f.spent, f.err
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSingleTransactionLimit(t *testing.T) {
	g := NewSingleTransactionLimit("", amount("50.00"))
	ctx := context.Background()

	if err := g.Evaluate(ctx, Input{Amount: amount("50")}); err != nil {
		t.Fatalf("amount equal to the limit should pass: %v", err)
	}
	err := g.Evaluate(ctx, Input{Amount: amount("75.00")})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	var v *Violation
	if !errors.As(err, &v) || v.Guard != "single_tx_limit" || v.Code != CodeBudgetExceeded {
		t.Fatalf("unexpected violation: %+v", v)
	}
}

func TestWindowBudgets(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fixedOutflow{spent: amount("80")}

	daily := NewDailyBudget("", amount("100"), src)
	if err := daily.Evaluate(ctx, Input{WalletID: "w", Amount: amount("20"), At: at}); err != nil {
		t.Fatalf("spending up to the limit should pass: %v", err)
	}
	if !src.since.Equal(at.Add(-24 * time.Hour)) {
		t.Fatalf("daily window should start 24h back, got %s", src.since)
	}
	if err := daily.Evaluate(ctx, Input{WalletID: "w", Amount: amount("20.01"), At: at}); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}

	hourly := NewHourlyBudget("", amount("90"), src)
	if err := hourly.Evaluate(ctx, Input{WalletID: "w", Amount: amount("10"), At: at}); err != nil {
		t.Fatalf("hourly: %v", err)
	}
	if !src.since.Equal(at.Add(-time.Hour)) {
		t.Fatalf("hourly window should start 1h back, got %s", src.since)
	}

	src.err = errors.New("db down")
	err := hourly.Evaluate(ctx, Input{WalletID: "w", Amount: amount("1"), At: at})
	var v *Violation
	if err == nil || errors.As(err, &v) {
		t.Fatalf("expected a plain infrastructure error, got %v", err)
	}
}

func TestRateLimitCountsAttempts(t *testing.T) {
	ctx := context.Background()
	g := NewRateLimit("", 2, NewMemoryCounter())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	attempt := func(in Input) error {
		if err := g.RecordAttempt(ctx, in); err != nil {
			t.Fatalf("record: %v", err)
		}
		return g.Evaluate(ctx, in)
	}

	for i := 0; i < 2; i++ {
		if err := attempt(Input{WalletID: "w", At: at.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := g.Evaluate(ctx, Input{WalletID: "w", At: at.Add(2 * time.Second), DryRun: true}); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("dry run should see the limit, got %v", err)
	}
	if err := attempt(Input{WalletID: "other", At: at}); err != nil {
		t.Fatalf("other wallets are independent: %v", err)
	}
	if err := attempt(Input{WalletID: "w", At: at.Add(61 * time.Second)}); err != nil {
		t.Fatalf("window should have slid: %v", err)
	}
}

func TestRateLimitEvaluateOnlyCounts(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryCounter()
	g := NewRateLimit("", 1, counter)
	at := time.Now()

	for i := 0; i < 3; i++ {
		if err := g.Evaluate(ctx, Input{WalletID: "w", At: at}); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}
	if n, _ := counter.Count(ctx, "w", at, time.Minute); n != 0 {
		t.Fatalf("evaluate recorded %d attempts", n)
	}
}

func TestRateLimitDryRunDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryCounter()
	g := NewRateLimit("", 1, counter)
	at := time.Now()

	for i := 0; i < 3; i++ {
		if err := g.Evaluate(ctx, Input{WalletID: "w", At: at, DryRun: true}); err != nil {
			t.Fatalf("dry run %d: %v", i, err)
		}
	}
	n, _ := counter.Count(ctx, "w", at, time.Minute)
	if n != 0 {
		t.Fatalf("dry runs recorded %d attempts", n)
	}
}

func TestRecipientWhitelist(t *testing.T) {
	ctx := context.Background()

	open := NewRecipientWhitelist("", nil)
	if err := open.Evaluate(ctx, Input{Recipient: "anyone"}); err != nil {
		t.Fatalf("empty whitelist must be unrestricted: %v", err)
	}

	g := NewRecipientWhitelist("", []string{"merchant-1", "0x52908400098527886e0f7030069857d2e4169ee7"})
	if err := g.Evaluate(ctx, Input{Recipient: " merchant-1 "}); err != nil {
		t.Fatalf("whitelisted recipient rejected: %v", err)
	}
	if err := g.Evaluate(ctx, Input{Recipient: "0x52908400098527886E0F7030069857D2E4169EE7"}); err != nil {
		t.Fatalf("address casing should not matter: %v", err)
	}
	if err := g.Evaluate(ctx, Input{Recipient: "merchant-2"}); !errors.Is(err, ErrUnauthorizedRecipient) {
		t.Fatalf("expected unauthorized recipient, got %v", err)
	}
}

func TestNormalizeRecipient(t *testing.T) {
	got := NormalizeRecipient("0xde709f2102306220921060314715629080e2fb77")
	if got != "0xde709f2102306220921060314715629080e2fb77" {
		t.Fatalf("unexpected checksum form %s", got)
	}
	if NormalizeRecipient("  acct_123 ") != "acct_123" {
		t.Fatalf("plain identifiers should only be trimmed")
	}
}
