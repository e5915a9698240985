package interfaces

import (
	"context"

	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/shopspring/decimal"
)

// AccountBalanceOracle is a read-only view of account balances.
type AccountBalanceOracle interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// AuditSink appends audit entries. Entries are immutable facts, so
// duplicates from retries are harmless.
type AuditSink interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// PaymentExecutor moves funds for one instruction. A non-nil error means the
// payment did not happen.
type PaymentExecutor interface {
	Execute(ctx context.Context, instruction models.PaymentInstruction) error
}

// Locker serializes work per key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
