package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/agentpay/internal/guard"
)

// SimulationResult is the outcome of a dry run. BlockedBy names the guard
// that would reject the payment, or "wallet" / "provider".
type SimulationResult struct {
	WouldSucceed bool            `json:"would_succeed"`
	EstimatedFee decimal.Decimal `json:"estimated_fee"`
	Reason       string          `json:"reason,omitempty"`
	BlockedBy    string          `json:"blocked_by,omitempty"`
	Code         string          `json:"code,omitempty"`
}

// Simulate evaluates a payment without recording it or moving funds. Rate
// limit guards count the attempt without recording it.
func (s *Service) Simulate(ctx context.Context, req Request) (SimulationResult, error) {
	ctx, span := s.tracer.Start(ctx, "payments.Simulate")
	defer span.End()

	p, err := validate(req)
	if err != nil {
		return SimulationResult{}, err
	}
	w, err := s.wallets.Get(ctx, p.walletID)
	if err != nil {
		return SimulationResult{}, err
	}
	if p, err = p.bind(w); err != nil {
		return SimulationResult{}, err
	}
	return s.simulate(ctx, p, w.Balance)
}

func (s *Service) simulate(ctx context.Context, p payment, balance decimal.Decimal) (SimulationResult, error) {
	if err := s.guards.Evaluate(ctx, p.guardInput(true)); err != nil {
		var v *guard.Violation
		if !errors.As(err, &v) {
			return SimulationResult{}, err
		}
		return SimulationResult{Reason: v.Reason, BlockedBy: v.Guard, Code: string(v.Code)}, nil
	}

	if balance.LessThan(p.amount) {
		return SimulationResult{
			Reason:    fmt.Sprintf("balance %s is below amount %s", balance, p.amount),
			BlockedBy: "wallet",
			Code:      codeInsufficientFunds,
		}, nil
	}

	sim, err := s.gateway.Simulate(ctx, p.providerRequest())
	if err != nil {
		return SimulationResult{Reason: err.Error(), BlockedBy: "provider", Code: codeSimulationFailed}, nil
	}
	out := SimulationResult{WouldSucceed: sim.WouldSucceed, EstimatedFee: sim.EstimatedFee, Reason: sim.Reason}
	if !sim.WouldSucceed {
		out.BlockedBy = "provider"
		out.Code = codeSimulationFailed
	}
	return out, nil
}
