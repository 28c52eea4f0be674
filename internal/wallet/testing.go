package wallet

import "github.com/shopspring/decimal"

// SeedBalance sets the balance of a wallet held by an in-memory repository.
// It is intended for tests only.
func SeedBalance(repo Repository, walletID string, amount decimal.Decimal) {
	mem, ok := repo.(*memoryRepository)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if w, exists := mem.storage[walletID]; exists {
		w.Balance = amount
		mem.storage[walletID] = w
	}
}
