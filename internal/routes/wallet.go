package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/ledger"
	"github.com/congo-pay/agentpay/internal/payments"
	"github.com/congo-pay/agentpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet and ledger read endpoints.
func RegisterWalletRoutes(r fiber.Router, ph *payments.Handler, wh *wallet.Handler, lh *ledger.Handler) {
	r.Post("/wallets", ph.CreateWallet)
	r.Get("/wallets/:walletId", wh.Get)
	r.Get("/wallets/:walletId/balance", wh.Balance)
	r.Get("/wallets/:walletId/ledger", lh.History)
	r.Get("/ledger/:entryId", lh.Get)
}
