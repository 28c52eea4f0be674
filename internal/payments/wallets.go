package payments

import (
	"context"

	"github.com/congo-pay/agentpay/internal/guard"
	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/provider"
	"github.com/congo-pay/agentpay/internal/wallet"
)

// CreateWallet onboards an owner with an empty wallet and registers the guard
// policies with the provider when it enforces them too.
func (s *Service) CreateWallet(ctx context.Context, ownerID, currency string) (wallet.Wallet, error) {
	w, err := s.walletSv.Create(ctx, wallet.CreateInput{OwnerID: ownerID, Currency: currency})
	if err != nil {
		return wallet.Wallet{}, err
	}
	s.logger.Info("wallet created", "wallet_id", w.ID, "owner_id", w.OwnerID, "currency", w.Currency)

	if reg, ok := s.gateway.(provider.PolicyRegistrar); ok {
		if err := reg.RegisterPolicies(ctx, w.ID, s.guards.Policies()); err != nil {
			// Local guards still apply; the provider copy is advisory.
			s.logger.Warn("guard policy registration failed", "wallet_id", w.ID, "provider", s.gateway.Name(), "error", err)
		}
	}
	return w, nil
}

// Wallet returns a wallet by id.
func (s *Service) Wallet(ctx context.Context, walletID string) (wallet.Wallet, error) {
	return s.walletSv.Get(ctx, walletID)
}

// Balance returns the committed balance of a wallet.
func (s *Service) Balance(ctx context.Context, walletID string) (wallet.Balance, error) {
	return s.walletSv.Balance(ctx, walletID)
}

// History returns a wallet's ledger entries, newest first.
func (s *Service) History(ctx context.Context, walletID string, limit, offset int) ([]ledger.Entry, error) {
	if _, err := s.wallets.Get(ctx, walletID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, walletID, limit, offset)
}

// Policies returns the configured guard policies in evaluation order.
func (s *Service) Policies() []guard.Policy {
	return s.guards.Policies()
}
