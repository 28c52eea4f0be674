package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/payments"
)

// PaymentInput is the tool input for pay, simulate_payment and
// create_payment_intent.
type PaymentInput struct {
	WalletID       string `json:"wallet_id" jsonschema:"source wallet identifier"`
	Recipient      string `json:"recipient" jsonschema:"recipient address or account identifier"`
	Amount         string `json:"amount" jsonschema:"positive decimal amount, for example 12.50"`
	Currency       string `json:"currency,omitempty" jsonschema:"currency code; defaults to the wallet currency"`
	IdempotencyKey string `json:"idempotency_key,omitempty" jsonschema:"retry-safe key; reusing it replays the first outcome"`
	Description    string `json:"description,omitempty" jsonschema:"free-form note recorded on the ledger"`
}

func (in PaymentInput) request() payments.Request {
	return payments.Request{
		WalletID:       in.WalletID,
		Recipient:      in.Recipient,
		Amount:         in.Amount,
		Currency:       in.Currency,
		IdempotencyKey: in.IdempotencyKey,
		Description:    in.Description,
	}
}

// PaymentResult is the tool output of pay and confirm_payment_intent.
type PaymentResult struct {
	EntryID        string `json:"entry_id" jsonschema:"ledger entry recording the outcome"`
	Status         string `json:"status" jsonschema:"completed, failed, blocked or pending"`
	WalletID       string `json:"wallet_id" jsonschema:"source wallet identifier"`
	Amount         string `json:"amount" jsonschema:"amount paid"`
	Currency       string `json:"currency" jsonschema:"currency code"`
	Recipient      string `json:"recipient" jsonschema:"recipient"`
	IdempotencyKey string `json:"idempotency_key" jsonschema:"key identifying this payment attempt"`
	TransferID     string `json:"transfer_id,omitempty" jsonschema:"provider transfer identifier"`
	TxHash         string `json:"tx_hash,omitempty" jsonschema:"on-chain transaction hash, when the rail has one"`
	BalanceAfter   string `json:"balance_after,omitempty" jsonschema:"wallet balance after the debit"`
	Replayed       bool   `json:"replayed" jsonschema:"true when an earlier outcome was returned for the same key"`
	Message        string `json:"message,omitempty" jsonschema:"explanation for pending outcomes"`
}

func paymentResult(res payments.Result) PaymentResult {
	return PaymentResult{
		EntryID:        res.EntryID,
		Status:         string(res.Status),
		WalletID:       res.WalletID,
		Amount:         res.Amount.String(),
		Currency:       res.Currency,
		Recipient:      res.Recipient,
		IdempotencyKey: res.IdempotencyKey,
		TransferID:     res.TransferID,
		TxHash:         res.TxHash,
		BalanceAfter:   res.BalanceAfter,
		Replayed:       res.Replayed,
	}
}

// payOutcome turns a pending outcome into a successful tool call so the
// agent can keep the key and check back later.
func payOutcome(res payments.Result, err error) (*mcp.CallToolResult, PaymentResult, error) {
	if errors.Is(err, payments.ErrPaymentPending) {
		out := paymentResult(res)
		out.Status = string(ledger.StatusPending)
		out.Message = "provider outcome unknown; the payment will be reconciled"
		return nil, out, nil
	}
	if err != nil {
		return nil, PaymentResult{}, err
	}
	return nil, paymentResult(res), nil
}

// PayTool defines the pay tool.
func PayTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "pay",
		Description: "Sends a payment from a wallet after running every guard and a provider simulation. Every attempt is recorded in the ledger.",
	}
}

// PayHandler executes a payment.
func PayHandler(svc *payments.Service) mcp.ToolHandlerFor[PaymentInput, PaymentResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in PaymentInput) (*mcp.CallToolResult, PaymentResult, error) {
		return payOutcome(svc.Pay(ctx, in.request()))
	}
}

// SimulationOutput is the tool output of simulate_payment.
type SimulationOutput struct {
	WouldSucceed bool   `json:"would_succeed" jsonschema:"whether the payment would go through now"`
	EstimatedFee string `json:"estimated_fee" jsonschema:"provider fee estimate"`
	Reason       string `json:"reason,omitempty" jsonschema:"why the payment would fail"`
	BlockedBy    string `json:"blocked_by,omitempty" jsonschema:"guard name, wallet or provider"`
	Code         string `json:"code,omitempty" jsonschema:"machine-readable rejection code"`
}

func simulationOutput(sim payments.SimulationResult) SimulationOutput {
	return SimulationOutput{
		WouldSucceed: sim.WouldSucceed,
		EstimatedFee: sim.EstimatedFee.String(),
		Reason:       sim.Reason,
		BlockedBy:    sim.BlockedBy,
		Code:         sim.Code,
	}
}

// SimulatePaymentTool defines the simulate_payment tool.
func SimulatePaymentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "simulate_payment",
		Description: "Dry-runs a payment against the guards, the wallet balance and the provider without moving funds or writing the ledger.",
	}
}

// SimulatePaymentHandler runs a dry run.
func SimulatePaymentHandler(svc *payments.Service) mcp.ToolHandlerFor[PaymentInput, SimulationOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in PaymentInput) (*mcp.CallToolResult, SimulationOutput, error) {
		sim, err := svc.Simulate(ctx, in.request())
		if err != nil {
			return nil, SimulationOutput{}, err
		}
		return nil, simulationOutput(sim), nil
	}
}

// WalletInput identifies a wallet.
type WalletInput struct {
	WalletID string `json:"wallet_id" jsonschema:"wallet identifier"`
}

// BalanceOutput is the tool output of check_balance.
type BalanceOutput struct {
	WalletID string `json:"wallet_id" jsonschema:"wallet identifier"`
	Balance  string `json:"balance" jsonschema:"committed balance"`
	Currency string `json:"currency" jsonschema:"currency code"`
	AsOf     string `json:"as_of" jsonschema:"RFC3339 timestamp of the reading"`
}

// CheckBalanceTool defines the check_balance tool.
func CheckBalanceTool() *mcp.Tool {
	return &mcp.Tool{Name: "check_balance", Description: "Returns the committed balance of a wallet."}
}

// CheckBalanceHandler reads a balance.
func CheckBalanceHandler(svc *payments.Service) mcp.ToolHandlerFor[WalletInput, BalanceOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in WalletInput) (*mcp.CallToolResult, BalanceOutput, error) {
		b, err := svc.Balance(ctx, in.WalletID)
		if err != nil {
			return nil, BalanceOutput{}, err
		}
		return nil, BalanceOutput{
			WalletID: b.WalletID,
			Balance:  b.Amount.String(),
			Currency: b.Currency,
			AsOf:     b.AsOf.Format(time.RFC3339),
		}, nil
	}
}

// CreateWalletInput is the tool input of create_wallet.
type CreateWalletInput struct {
	OwnerID  string `json:"owner_id" jsonschema:"agent or user that will own the wallet"`
	Currency string `json:"currency,omitempty" jsonschema:"currency code, USD when omitted"`
}

// WalletOutput is the tool output of create_wallet.
type WalletOutput struct {
	ID        string `json:"id" jsonschema:"wallet identifier"`
	OwnerID   string `json:"owner_id" jsonschema:"owner identifier"`
	Balance   string `json:"balance" jsonschema:"current balance"`
	Currency  string `json:"currency" jsonschema:"currency code"`
	CreatedAt string `json:"created_at" jsonschema:"RFC3339 creation timestamp"`
}

// CreateWalletTool defines the create_wallet tool.
func CreateWalletTool() *mcp.Tool {
	return &mcp.Tool{Name: "create_wallet", Description: "Creates the single wallet of an owner. Fails if the owner already has one."}
}

// CreateWalletHandler onboards an owner.
func CreateWalletHandler(svc *payments.Service) mcp.ToolHandlerFor[CreateWalletInput, WalletOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in CreateWalletInput) (*mcp.CallToolResult, WalletOutput, error) {
		w, err := svc.CreateWallet(ctx, in.OwnerID, in.Currency)
		if err != nil {
			return nil, WalletOutput{}, err
		}
		return nil, WalletOutput{
			ID:        w.ID,
			OwnerID:   w.OwnerID,
			Balance:   w.Balance.String(),
			Currency:  w.Currency,
			CreatedAt: w.CreatedAt.Format(time.RFC3339),
		}, nil
	}
}

// IntentOutput is the tool output of create_payment_intent.
type IntentOutput struct {
	ID         string           `json:"id" jsonschema:"intent identifier to confirm"`
	WalletID   string           `json:"wallet_id" jsonschema:"source wallet identifier"`
	Recipient  string           `json:"recipient" jsonschema:"recipient"`
	Amount     string           `json:"amount" jsonschema:"amount"`
	Currency   string           `json:"currency" jsonschema:"currency code"`
	Simulation SimulationOutput `json:"simulation" jsonschema:"dry-run outcome at creation time"`
	ExpiresAt  string           `json:"expires_at" jsonschema:"RFC3339 time after which the intent cannot be confirmed"`
}

// CreatePaymentIntentTool defines the create_payment_intent tool.
func CreatePaymentIntentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "create_payment_intent",
		Description: "Simulates a payment and stores it for later confirmation, so a human or another agent can review it first.",
	}
}

// CreatePaymentIntentHandler stores an intent.
func CreatePaymentIntentHandler(svc *payments.Service) mcp.ToolHandlerFor[PaymentInput, IntentOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in PaymentInput) (*mcp.CallToolResult, IntentOutput, error) {
		intent, err := svc.CreateIntent(ctx, in.request())
		if err != nil {
			return nil, IntentOutput{}, err
		}
		return nil, IntentOutput{
			ID:         intent.ID,
			WalletID:   intent.Request.WalletID,
			Recipient:  intent.Request.Recipient,
			Amount:     intent.Request.Amount,
			Currency:   intent.Request.Currency,
			Simulation: simulationOutput(intent.Simulation),
			ExpiresAt:  intent.ExpiresAt.Format(time.RFC3339),
		}, nil
	}
}

// ConfirmIntentInput is the tool input of confirm_payment_intent.
type ConfirmIntentInput struct {
	IntentID string `json:"intent_id" jsonschema:"identifier returned by create_payment_intent"`
}

// ConfirmPaymentIntentTool defines the confirm_payment_intent tool.
func ConfirmPaymentIntentTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "confirm_payment_intent",
		Description: "Executes a stored payment intent. Confirming twice returns the first outcome.",
	}
}

// ConfirmPaymentIntentHandler pays an intent.
func ConfirmPaymentIntentHandler(svc *payments.Service) mcp.ToolHandlerFor[ConfirmIntentInput, PaymentResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ConfirmIntentInput) (*mcp.CallToolResult, PaymentResult, error) {
		return payOutcome(svc.ConfirmIntent(ctx, in.IntentID))
	}
}

// GuardsOutput is the tool output of list_guards.
type GuardsOutput struct {
	Guards []guard.Policy `json:"guards" jsonschema:"guard policies in evaluation order"`
}

// ListGuardsTool defines the list_guards tool.
func ListGuardsTool() *mcp.Tool {
	return &mcp.Tool{Name: "list_guards", Description: "Lists the payment guards in the order they are evaluated."}
}

// ListGuardsHandler lists guard policies.
func ListGuardsHandler(svc *payments.Service) mcp.ToolHandlerFor[struct{}, GuardsOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, GuardsOutput, error) {
		policies := svc.Policies()
		if policies == nil {
			policies = []guard.Policy{}
		}
		return nil, GuardsOutput{Guards: policies}, nil
	}
}

// HistoryInput is the tool input of ledger_history.
type HistoryInput struct {
	WalletID string `json:"wallet_id" jsonschema:"wallet identifier"`
	Limit    int    `json:"limit,omitempty" jsonschema:"page size, 50 when omitted"`
	Offset   int    `json:"offset,omitempty" jsonschema:"entries to skip"`
}

// HistoryEntry is one ledger entry as shown to agents.
type HistoryEntry struct {
	ID          string `json:"id" jsonschema:"entry identifier"`
	Amount      string `json:"amount" jsonschema:"signed amount, negative for debits"`
	Currency    string `json:"currency" jsonschema:"currency code"`
	Status      string `json:"status" jsonschema:"pending, completed, failed or blocked"`
	Kind        string `json:"kind" jsonschema:"debit or credit"`
	Recipient   string `json:"recipient,omitempty" jsonschema:"recipient"`
	Reason      string `json:"reason,omitempty" jsonschema:"rejection or failure reason"`
	ReferenceID string `json:"reference_id,omitempty" jsonschema:"entry this one resolves"`
	CreatedAt   string `json:"created_at" jsonschema:"RFC3339 timestamp"`
}

// HistoryOutput is the tool output of ledger_history.
type HistoryOutput struct {
	Entries []HistoryEntry `json:"entries" jsonschema:"entries, newest first"`
}

// LedgerHistoryTool defines the ledger_history tool.
func LedgerHistoryTool() *mcp.Tool {
	return &mcp.Tool{Name: "ledger_history", Description: "Lists a wallet's ledger entries, newest first."}
}

// LedgerHistoryHandler pages through a wallet's ledger.
func LedgerHistoryHandler(svc *payments.Service) mcp.ToolHandlerFor[HistoryInput, HistoryOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
		entries, err := svc.History(ctx, in.WalletID, in.Limit, in.Offset)
		if err != nil {
			return nil, HistoryOutput{}, err
		}
		out := HistoryOutput{Entries: make([]HistoryEntry, 0, len(entries))}
		for _, e := range entries {
			out.Entries = append(out.Entries, HistoryEntry{
				ID:          e.ID,
				Amount:      e.Amount.String(),
				Currency:    e.Currency,
				Status:      string(e.Status),
				Kind:        string(e.Kind),
				Recipient:   e.Recipient,
				Reason:      e.Reason,
				ReferenceID: e.ReferenceID,
				CreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
			})
		}
		return nil, out, nil
	}
}

// NewServer builds the MCP server exposing the payment tools.
func NewServer(svc *payments.Service, version string) (*mcp.Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("payments service is required")
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "agentpay", Version: version}, nil)

	mcp.AddTool(server, PayTool(), PayHandler(svc))
	mcp.AddTool(server, SimulatePaymentTool(), SimulatePaymentHandler(svc))
	mcp.AddTool(server, CheckBalanceTool(), CheckBalanceHandler(svc))
	mcp.AddTool(server, CreateWalletTool(), CreateWalletHandler(svc))
	mcp.AddTool(server, CreatePaymentIntentTool(), CreatePaymentIntentHandler(svc))
	mcp.AddTool(server, ConfirmPaymentIntentTool(), ConfirmPaymentIntentHandler(svc))
	mcp.AddTool(server, ListGuardsTool(), ListGuardsHandler(svc))
	mcp.AddTool(server, LedgerHistoryTool(), LedgerHistoryHandler(svc))
	return server, nil
}
