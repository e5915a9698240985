package postgres

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

// PostgresAccounts reads balances from the accounts table, which is owned by
// the core banking system.
type PostgresAccounts struct {
	db *sql.DB
}

func NewPostgresAccounts(db *sql.DB) *PostgresAccounts {
	return &PostgresAccounts{db: db}
}

func (p *PostgresAccounts) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	const query = `SELECT balance FROM accounts WHERE id = $1`

	var balance decimal.Decimal
	if err := p.db.QueryRowContext(ctx, query, accountID).Scan(&balance); err != nil {
		return decimal.Zero, mapError(err)
	}
	return balance, nil
}

// SetBalance upserts a balance. Used for seeding.
func (p *PostgresAccounts) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	const query = `INSERT INTO accounts (id, balance) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`

	_, err := p.db.ExecContext(ctx, query, accountID, balance)
	return err
}

// PostgresAuditSink appends entries to the audit_trail table.
type PostgresAuditSink struct {
	db *sql.DB
}

func NewPostgresAuditSink(db *sql.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

// Record ignores an entry whose ID is already stored, so redelivery is safe.
func (p *PostgresAuditSink) Record(ctx context.Context, e models.AuditEntry) error {
	const query = `INSERT INTO audit_trail
	(id, entity_type, entity_id, action, actor_id, old_value, new_value, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, query, e.ID, e.EntityType, e.EntityID, e.Action, e.ActorID, e.Before, e.After, e.Timestamp)
	return err
}

// Trail returns the entries for one entity, oldest first.
func (p *PostgresAuditSink) Trail(ctx context.Context, entityType, entityID string) ([]models.AuditEntry, error) {
	const query = `SELECT id, entity_type, entity_id, action, actor_id, old_value, new_value, created_at
	FROM audit_trail WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &e.Before, &e.After, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var (
	_ interfaces.AccountBalanceOracle = (*PostgresAccounts)(nil)
	_ interfaces.AuditSink            = (*PostgresAuditSink)(nil)
)
