package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/logging"
	"github.com/congo-pay/agentpay/internal/notification"
	"github.com/congo-pay/agentpay/internal/provider"
	"github.com/congo-pay/agentpay/internal/storage"
	"github.com/congo-pay/agentpay/internal/wallet"
)

type fakeGateway struct {
	mu         sync.Mutex
	executions int
	simulate   func(provider.Request) (provider.Simulation, error)
	execute    func(context.Context, provider.Request) (provider.Transfer, error)
	lookup     func(string) (provider.Transfer, error)
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Simulate(_ context.Context, req provider.Request) (provider.Simulation, error) {
	if g.simulate != nil {
		return g.simulate(req)
	}
	return provider.Simulation{WouldSucceed: true, EstimatedFee: decimal.RequireFromString("0.10")}, nil
}

func (g *fakeGateway) Execute(ctx context.Context, req provider.Request) (provider.Transfer, error) {
	g.mu.Lock()
	g.executions++
	g.mu.Unlock()
	if g.execute != nil {
		return g.execute(ctx, req)
	}
	return completedTransfer(req), nil
}

func (g *fakeGateway) Lookup(_ context.Context, ref string) (provider.Transfer, error) {
	if g.lookup != nil {
		return g.lookup(ref)
	}
	return provider.Transfer{}, provider.ErrTransferNotFound
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executions
}

func completedTransfer(req provider.Request) provider.Transfer {
	return provider.Transfer{
		ID:              "tr-" + req.ClientReference,
		ClientReference: req.ClientReference,
		Status:          provider.StatusCompleted,
		Amount:          req.Amount,
		TxHash:          "0xfeed",
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	svc      *Service
	wallets  wallet.Repository
	ledger   ledger.Ledger
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func newFixture(t *testing.T, policies ...guard.Policy) *fixture {
	t.Helper()
	if len(policies) == 0 {
		policies = []guard.Policy{{Kind: guard.KindRecipientWhitelist}}
	}
	led := ledger.NewInMemory()
	guards, err := guard.Build(policies, guard.Deps{Outflow: led, Attempts: guard.NewMemoryCounter()})
	if err != nil {
		t.Fatalf("build guards: %v", err)
	}
	chain, err := guard.NewChain(guards, guard.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	f := &fixture{
		wallets:  wallet.NewMemoryRepository(),
		ledger:   led,
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
	}
	f.svc, err = NewService(Deps{
		Transactor: storage.NewMemoryTransactor(),
		Wallets:    f.wallets,
		Ledger:     f.ledger,
		Guards:     chain,
		Gateway:    f.gateway,
		Notifier:   f.notifier,
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return f
}

func (f *fixture) wallet(t *testing.T, balance string) string {
	t.Helper()
	w, err := f.svc.CreateWallet(context.Background(), uuid.NewString(), "USD")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	wallet.SeedBalance(f.wallets, w.ID, decimal.RequireFromString(balance))
	return w.ID
}

func (f *fixture) balance(t *testing.T, walletID string) string {
	t.Helper()
	b, err := f.svc.Balance(context.Background(), walletID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Amount.StringFixed(2)
}

func (f *fixture) entries(t *testing.T, walletID string) []ledger.Entry {
	t.Helper()
	entries, err := f.ledger.History(context.Background(), walletID, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return entries
}

func countStatus(entries []ledger.Entry, status ledger.Status) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

func txLimit(limit string) guard.Policy {
	return guard.Policy{Kind: guard.KindSingleTxLimit, Limit: limit}
}

func TestPayBlockedByTransactionLimit(t *testing.T) {
	f := newFixture(t, txLimit("50.00"))
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "75.00"})
	if !errors.Is(err, guard.ErrBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	var v *guard.Violation
	if !errors.As(err, &v) || v.Guard != string(guard.KindSingleTxLimit) {
		t.Fatalf("expected violation from single_tx_limit, got %#v", err)
	}
	if res.Status != ledger.StatusBlocked {
		t.Fatalf("expected blocked result, got %s", res.Status)
	}

	entries := f.entries(t, w)
	if len(entries) != 1 || entries[0].Status != ledger.StatusBlocked {
		t.Fatalf("expected one blocked entry, got %+v", entries)
	}
	if entries[0].Result["guard"] != string(guard.KindSingleTxLimit) {
		t.Fatalf("blocked entry does not name the guard: %v", entries[0].Result)
	}
	if got := f.balance(t, w); got != "100.00" {
		t.Fatalf("balance changed to %s", got)
	}
	if f.gateway.calls() != 0 {
		t.Fatalf("provider was called for a blocked payment")
	}
}

func TestPayCompletesAndDebits(t *testing.T) {
	f := newFixture(t, txLimit("500"))
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30.00"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if res.Status != ledger.StatusCompleted || res.TransferID == "" || res.TxHash != "0xfeed" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.BalanceAfter != "70" {
		t.Fatalf("expected balance_after 70, got %q", res.BalanceAfter)
	}
	if got := f.balance(t, w); got != "70.00" {
		t.Fatalf("expected 70.00, got %s", got)
	}

	entries := f.entries(t, w)
	if len(entries) != 2 {
		t.Fatalf("expected pending and completed entries, got %d", len(entries))
	}
	completed, pending := entries[0], entries[1]
	if completed.Status != ledger.StatusCompleted || !completed.Amount.Equal(decimal.RequireFromString("-30")) {
		t.Fatalf("unexpected completed entry %+v", completed)
	}
	if pending.Status != ledger.StatusPending || completed.ReferenceID != pending.ID {
		t.Fatalf("completed entry does not resolve the pending one")
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != notification.KindPaymentCompleted {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, "100.00")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "60.00"})
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, wallet.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("expected one success and one insufficient funds, got %d/%d", succeeded, insufficient)
	}
	if got := f.balance(t, w); got != "40.00" {
		t.Fatalf("expected 40.00, got %s", got)
	}
	entries := f.entries(t, w)
	if countStatus(entries, ledger.StatusCompleted) != 1 || countStatus(entries, ledger.StatusFailed) != 1 {
		t.Fatalf("expected one completed and one failed entry, got %+v", entries)
	}
}

func TestReplayReturnsOriginalResult(t *testing.T) {
	f := newFixture(t, txLimit("500"))
	w := f.wallet(t, "100.00")
	req := Request{WalletID: w, Recipient: "0xabc", Amount: "30.00", IdempotencyKey: "order-1"}

	first, err := f.svc.Pay(context.Background(), req)
	if err != nil {
		t.Fatalf("first pay: %v", err)
	}
	second, err := f.svc.Pay(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed pay: %v", err)
	}

	if !second.Replayed || first.Replayed {
		t.Fatalf("replay flag wrong: first=%v second=%v", first.Replayed, second.Replayed)
	}
	if second.EntryID != first.EntryID || second.TransferID != first.TransferID {
		t.Fatalf("replay returned a different outcome: %+v vs %+v", second, first)
	}
	if f.gateway.calls() != 1 {
		t.Fatalf("expected one provider call, got %d", f.gateway.calls())
	}
	if got := f.balance(t, w); got != "70.00" {
		t.Fatalf("expected a single debit, balance %s", got)
	}
	if n := len(f.entries(t, w)); n != 2 {
		t.Fatalf("replay added entries: %d", n)
	}
}

func TestReplayOfBlockedAttemptReturnsViolation(t *testing.T) {
	f := newFixture(t, txLimit("50"))
	w := f.wallet(t, "100.00")
	req := Request{WalletID: w, Recipient: "0xabc", Amount: "75", IdempotencyKey: "blocked-1"}

	_, _ = f.svc.Pay(context.Background(), req)
	res, err := f.svc.Pay(context.Background(), req)

	var v *guard.Violation
	if !errors.As(err, &v) || v.Code != guard.CodeBudgetExceeded {
		t.Fatalf("expected replayed violation, got %v", err)
	}
	if !res.Replayed {
		t.Fatalf("expected replayed result")
	}
	if n := len(f.entries(t, w)); n != 1 {
		t.Fatalf("expected one entry, got %d", n)
	}
}

func TestKeyReusedForAnotherWalletIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.wallet(t, "100")
	b := f.wallet(t, "100")

	if _, err := f.svc.Pay(context.Background(), Request{WalletID: a, Recipient: "r", Amount: "1", IdempotencyKey: "shared"}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	_, err := f.svc.Pay(context.Background(), Request{WalletID: b, Recipient: "r", Amount: "1", IdempotencyKey: "shared"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestProviderFailureRecordsFailedEntry(t *testing.T) {
	f := newFixture(t)
	f.gateway.execute = func(_ context.Context, req provider.Request) (provider.Transfer, error) {
		tr := completedTransfer(req)
		tr.Status = provider.StatusFailed
		tr.Reason = "insufficient gas"
		return tr, nil
	}
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if res.Status != ledger.StatusFailed || res.Reason != "insufficient gas" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.balance(t, w); got != "100.00" {
		t.Fatalf("balance moved on failure: %s", got)
	}
	entries := f.entries(t, w)
	if len(entries) != 2 || countStatus(entries, ledger.StatusFailed) != 1 || countStatus(entries, ledger.StatusPending) != 1 {
		t.Fatalf("expected pending and failed entries, got %+v", entries)
	}
}

func TestBlockedAttemptsCountTowardRateLimit(t *testing.T) {
	f := newFixture(t, txLimit("10"), guard.Policy{Kind: guard.KindRateLimit, MaxPerMinute: 1})
	w := f.wallet(t, "100.00")

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "50.00"}); !errors.Is(err, guard.ErrBudgetExceeded) {
			t.Fatalf("attempt %d: expected budget exceeded, got %v", i, err)
		}
	}
	_, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "5.00"})
	if !errors.Is(err, guard.ErrRateLimitExceeded) {
		t.Fatalf("expected rate limit exceeded, got %v", err)
	}
	if f.gateway.calls() != 0 {
		t.Fatalf("provider executed a rate limited payment")
	}
	if got := countStatus(f.entries(t, w), ledger.StatusBlocked); got != 3 {
		t.Fatalf("expected three blocked entries, got %d", got)
	}
}

func TestInsufficientFundsRecordsBalance(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, "20.00")

	_, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30.00"})
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	entries := f.entries(t, w)
	if len(entries) != 1 || entries[0].Status != ledger.StatusFailed {
		t.Fatalf("expected one failed entry, got %+v", entries)
	}
	result := entries[0].Result
	decimalAt := func(key string) decimal.Decimal {
		raw, _ := result[key].(string)
		d, err := decimal.NewFromString(raw)
		if err != nil {
			t.Fatalf("%s is not a decimal in %v", key, result)
		}
		return d
	}
	if result["code"] != "insufficient_funds" {
		t.Fatalf("unexpected code in %v", result)
	}
	if !decimalAt("balance").Equal(decimal.NewFromInt(20)) || !decimalAt("amount").Equal(decimal.NewFromInt(30)) {
		t.Fatalf("failed entry should carry balance and amount: %v", result)
	}
	if f.gateway.calls() != 0 {
		t.Fatalf("provider executed without funds")
	}
}

func TestProviderErrorRecordsFailedEntry(t *testing.T) {
	f := newFixture(t)
	f.gateway.execute = func(context.Context, provider.Request) (provider.Transfer, error) {
		return provider.Transfer{}, provider.ErrRejected
	}
	w := f.wallet(t, "100.00")

	_, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if got := f.balance(t, w); got != "100.00" {
		t.Fatalf("balance moved on failure: %s", got)
	}
}

func TestSimulationFailureBlocksWithoutExecuting(t *testing.T) {
	f := newFixture(t)
	f.gateway.simulate = func(provider.Request) (provider.Simulation, error) {
		return provider.Simulation{WouldSucceed: false, Reason: "route unavailable"}, nil
	}
	w := f.wallet(t, "100.00")

	_, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if !errors.Is(err, ErrSimulationFailed) {
		t.Fatalf("expected simulation failure, got %v", err)
	}
	entries := f.entries(t, w)
	if len(entries) != 1 || entries[0].Status != ledger.StatusBlocked || entries[0].Reason != "route unavailable" {
		t.Fatalf("expected one blocked entry, got %+v", entries)
	}
	if f.gateway.calls() != 0 {
		t.Fatalf("provider executed after failed simulation")
	}
}

func TestCancellationResolvedByLookup(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.execute = func(ctx context.Context, req provider.Request) (provider.Transfer, error) {
		cancel()
		return provider.Transfer{}, ctx.Err()
	}
	f.gateway.lookup = func(ref string) (provider.Transfer, error) {
		return completedTransfer(provider.Request{ClientReference: ref, Amount: decimal.NewFromInt(30)}), nil
	}
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(ctx, Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if err != nil {
		t.Fatalf("expected lookup to settle the payment, got %v", err)
	}
	if res.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected status %s", res.Status)
	}
	if got := f.balance(t, w); got != "70.00" {
		t.Fatalf("expected 70.00, got %s", got)
	}
}

func TestTransportTimeoutResolvedByLookup(t *testing.T) {
	f := newFixture(t)
	var settled provider.Transfer
	f.gateway.execute = func(_ context.Context, req provider.Request) (provider.Transfer, error) {
		settled = completedTransfer(req)
		return provider.Transfer{}, &url.Error{Op: "Post", URL: "http://provider/v1/transfers", Err: context.DeadlineExceeded}
	}
	f.gateway.lookup = func(ref string) (provider.Transfer, error) {
		if settled.ClientReference != ref {
			return provider.Transfer{}, provider.ErrTransferNotFound
		}
		return settled, nil
	}
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if err != nil {
		t.Fatalf("expected lookup to settle the payment, got %v", err)
	}
	if res.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected status %s", res.Status)
	}
	if got := f.balance(t, w); got != "70.00" {
		t.Fatalf("expected 70.00, got %s", got)
	}
	entries := f.entries(t, w)
	if countStatus(entries, ledger.StatusCompleted) != 1 || countStatus(entries, ledger.StatusFailed) != 0 {
		t.Fatalf("expected one completed entry and no failure, got %+v", entries)
	}
}

func TestProviderOutageWithoutLookupStaysPending(t *testing.T) {
	f := newFixture(t)
	f.gateway.execute = func(context.Context, provider.Request) (provider.Transfer, error) {
		return provider.Transfer{}, fmt.Errorf("%w: bad gateway", provider.ErrUnavailable)
	}
	f.gateway.lookup = func(string) (provider.Transfer, error) {
		return provider.Transfer{}, errors.New("connection reset by peer")
	}
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if !errors.Is(err, ErrPaymentPending) {
		t.Fatalf("expected pending, got %v", err)
	}
	if res.Status != ledger.StatusPending {
		t.Fatalf("unexpected status %s", res.Status)
	}
	if got := f.balance(t, w); got != "100.00" {
		t.Fatalf("balance moved while outcome unknown: %s", got)
	}
	if entries := f.entries(t, w); len(entries) != 1 || entries[0].Status != ledger.StatusPending {
		t.Fatalf("expected a lone pending entry, got %+v", entries)
	}
}

func TestCancellationWithoutTransferFails(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.execute = func(ctx context.Context, req provider.Request) (provider.Transfer, error) {
		cancel()
		return provider.Transfer{}, ctx.Err()
	}
	w := f.wallet(t, "100.00")

	_, err := f.svc.Pay(ctx, Request{WalletID: w, Recipient: "0xabc", Amount: "30"})
	if !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if got := f.balance(t, w); got != "100.00" {
		t.Fatalf("balance moved: %s", got)
	}
}

func TestUnknownOutcomeStaysPendingUntilReconciled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gateway.execute = func(ctx context.Context, req provider.Request) (provider.Transfer, error) {
		cancel()
		return provider.Transfer{}, ctx.Err()
	}
	f.gateway.lookup = func(string) (provider.Transfer, error) {
		return provider.Transfer{}, errors.New("provider unreachable")
	}
	w := f.wallet(t, "100.00")

	res, err := f.svc.Pay(ctx, Request{WalletID: w, Recipient: "0xabc", Amount: "30", IdempotencyKey: "unknown-1"})
	if !errors.Is(err, ErrPaymentPending) {
		t.Fatalf("expected pending, got %v", err)
	}
	if res.Status != ledger.StatusPending {
		t.Fatalf("unexpected status %s", res.Status)
	}
	if entries := f.entries(t, w); len(entries) != 1 || entries[0].Status != ledger.StatusPending {
		t.Fatalf("expected a lone pending entry, got %+v", entries)
	}

	if _, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "0xabc", Amount: "30", IdempotencyKey: "unknown-1"}); !errors.Is(err, ErrPaymentPending) {
		t.Fatalf("replay of a pending attempt should report pending, got %v", err)
	}

	ev := SettlementEvent{ID: "evt-1", Type: EventPaymentSent, ClientReference: "unknown-1", TransferID: "tr-9"}
	rec, err := f.svc.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Applied || rec.Status != ledger.StatusCompleted {
		t.Fatalf("unexpected reconciliation %+v", rec)
	}
	if got := f.balance(t, w); got != "70.00" {
		t.Fatalf("expected 70.00 after settlement, got %s", got)
	}

	again, err := f.svc.Reconcile(context.Background(), SettlementEvent{ID: "evt-2", Type: EventTransactionFailed, ClientReference: "unknown-1"})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again.Applied {
		t.Fatalf("conflicting event must not add a second terminal entry")
	}
	entries := f.entries(t, w)
	if countStatus(entries, ledger.StatusCompleted)+countStatus(entries, ledger.StatusFailed) != 1 {
		t.Fatalf("expected exactly one terminal entry, got %+v", entries)
	}
}

func TestReconcileCreditAppliedOnce(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, "10")
	ev := SettlementEvent{ID: "in-1", Type: EventPaymentReceived, WalletID: w, Amount: "5.50", Currency: "usd", Sender: "0xdef"}

	first, err := f.svc.Reconcile(context.Background(), ev)
	if err != nil || !first.Applied {
		t.Fatalf("first credit: %+v %v", first, err)
	}
	second, err := f.svc.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if second.Applied || second.EntryID != first.EntryID {
		t.Fatalf("duplicate event was applied again: %+v", second)
	}
	if got := f.balance(t, w); got != "15.50" {
		t.Fatalf("expected 15.50, got %s", got)
	}
}

func TestReconcileRejectsUnknownEvent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Reconcile(context.Background(), SettlementEvent{Type: "refund.created"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected unknown event, got %v", err)
	}
}

func TestPayValidation(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, "100")

	cases := map[string]Request{
		"not a number":      {WalletID: w, Recipient: "r", Amount: "abc"},
		"negative":          {WalletID: w, Recipient: "r", Amount: "-5"},
		"zero":              {WalletID: w, Recipient: "r", Amount: "0"},
		"missing recipient": {WalletID: w, Amount: "5"},
		"missing wallet":    {Recipient: "r", Amount: "5"},
		"currency mismatch": {WalletID: w, Recipient: "r", Amount: "5", Currency: "EUR"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Pay(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if n := len(f.entries(t, w)); n != 0 {
		t.Fatalf("invalid requests reached the ledger: %d entries", n)
	}
}

func TestPayUnknownWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Pay(context.Background(), Request{WalletID: uuid.NewString(), Recipient: "r", Amount: "5"})
	if !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestDailyBudgetCountsEarlierPayments(t *testing.T) {
	f := newFixture(t, guard.Policy{Kind: guard.KindDailyBudget, Limit: "100"})
	w := f.wallet(t, "500")

	if _, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "r", Amount: "60"}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	_, err := f.svc.Pay(context.Background(), Request{WalletID: w, Recipient: "r", Amount: "50"})
	if !errors.Is(err, guard.ErrBudgetExceeded) {
		t.Fatalf("expected daily budget to block, got %v", err)
	}
}

func TestSimulateRecordsNothing(t *testing.T) {
	f := newFixture(t, guard.Policy{Kind: guard.KindRateLimit, MaxPerMinute: 1})
	w := f.wallet(t, "100")
	req := Request{WalletID: w, Recipient: "r", Amount: "10"}

	for i := 0; i < 3; i++ {
		sim, err := f.svc.Simulate(context.Background(), req)
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if !sim.WouldSucceed || !sim.EstimatedFee.Equal(decimal.RequireFromString("0.10")) {
			t.Fatalf("unexpected simulation %+v", sim)
		}
	}
	if n := len(f.entries(t, w)); n != 0 {
		t.Fatalf("simulation wrote %d ledger entries", n)
	}

	if _, err := f.svc.Pay(context.Background(), req); err != nil {
		t.Fatalf("first pay after simulations: %v", err)
	}
	if _, err := f.svc.Pay(context.Background(), req); !errors.Is(err, guard.ErrRateLimitExceeded) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	sim, err := f.svc.Simulate(context.Background(), req)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if sim.WouldSucceed || sim.Code != string(guard.CodeRateLimitExceeded) {
		t.Fatalf("expected simulation to report the rate limit, got %+v", sim)
	}
}

func TestSimulateReportsInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, "5")

	sim, err := f.svc.Simulate(context.Background(), Request{WalletID: w, Recipient: "r", Amount: "10"})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if sim.WouldSucceed || sim.BlockedBy != "wallet" {
		t.Fatalf("unexpected simulation %+v", sim)
	}
}

func TestIntentConfirmationReplays(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, "100")

	intent, err := f.svc.CreateIntent(context.Background(), Request{WalletID: w, Recipient: "r", Amount: "25"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if !intent.Simulation.WouldSucceed || intent.Request.Currency != "USD" {
		t.Fatalf("unexpected intent %+v", intent)
	}

	first, err := f.svc.ConfirmIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	second, err := f.svc.ConfirmIntent(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("confirm again: %v", err)
	}
	if !second.Replayed || second.EntryID != first.EntryID {
		t.Fatalf("second confirmation did not replay: %+v", second)
	}
	if first.IdempotencyKey != "intent:"+intent.ID {
		t.Fatalf("unexpected key %q", first.IdempotencyKey)
	}
	if got := f.balance(t, w); got != "75.00" {
		t.Fatalf("expected 75.00, got %s", got)
	}

	if _, err := f.svc.ConfirmIntent(context.Background(), "missing"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected intent not found, got %v", err)
	}
}

func TestCreateWalletRegistersPolicies(t *testing.T) {
	led := ledger.NewInMemory()
	guards, err := guard.Build([]guard.Policy{txLimit("50")}, guard.Deps{Outflow: led})
	if err != nil {
		t.Fatalf("build guards: %v", err)
	}
	chain, err := guard.NewChain(guards)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	static := provider.NewStatic(decimal.Zero)
	svc, err := NewService(Deps{
		Transactor: storage.NewMemoryTransactor(),
		Wallets:    wallet.NewMemoryRepository(),
		Ledger:     led,
		Guards:     chain,
		Gateway:    static,
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	w, err := svc.CreateWallet(context.Background(), "agent-7", "usd")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.Currency != "USD" {
		t.Fatalf("currency not normalized: %s", w.Currency)
	}
	if got := static.Policies(w.ID); len(got) != 1 || got[0].Kind != guard.KindSingleTxLimit {
		t.Fatalf("policies not registered: %+v", got)
	}
	if _, err := svc.CreateWallet(context.Background(), "agent-7", "USD"); !errors.Is(err, wallet.ErrDuplicateOwner) {
		t.Fatalf("expected duplicate owner, got %v", err)
	}
}

func TestNewServiceRequiresGuards(t *testing.T) {
	_, err := NewService(Deps{
		Transactor: storage.NewMemoryTransactor(),
		Wallets:    wallet.NewMemoryRepository(),
		Ledger:     ledger.NewInMemory(),
		Gateway:    &fakeGateway{},
	})
	if !errors.Is(err, guard.ErrNoGuards) {
		t.Fatalf("expected ErrNoGuards, got %v", err)
	}
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
