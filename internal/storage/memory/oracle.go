package memory

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
	"github.com/shopspring/decimal"
)

// BalanceOracle serves account balances from memory.
type BalanceOracle struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

func NewBalanceOracle() *BalanceOracle {
	return &BalanceOracle{balances: make(map[string]decimal.Decimal)}
}

func (o *BalanceOracle) SetBalance(accountID string, balance decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.balances[accountID] = balance
}

// Balance returns storage.ErrNotFound for unknown accounts.
func (o *BalanceOracle) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	balance, ok := o.balances[accountID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	return balance, nil
}

var _ interfaces.AccountBalanceOracle = (*BalanceOracle)(nil)
