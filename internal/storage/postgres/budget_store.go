package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

type PostgresBudgetStore struct {
	db *sql.DB
}

func NewPostgresBudgetStore(db *sql.DB) *PostgresBudgetStore {
	return &PostgresBudgetStore{db: db}
}

const allocationColumns = `id, department, category, fiscal_year, currency, allocated_amount,
	spent_amount, committed_amount, available_amount, status, version, created_at, updated_at`

func scanAllocation(row interface{ Scan(...any) error }) (models.BudgetAllocation, error) {
	var a models.BudgetAllocation
	err := row.Scan(&a.ID, &a.Department, &a.Category, &a.FiscalYear, &a.Currency, &a.AllocatedAmount,
		&a.SpentAmount, &a.CommittedAmount, &a.AvailableAmount, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// SaveAllocation upserts an allocation without a version check.
func (p *PostgresBudgetStore) SaveAllocation(ctx context.Context, a models.BudgetAllocation) error {
	const query = `INSERT INTO budget_allocations (` + allocationColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
		department = EXCLUDED.department,
		category = EXCLUDED.category,
		fiscal_year = EXCLUDED.fiscal_year,
		currency = EXCLUDED.currency,
		allocated_amount = EXCLUDED.allocated_amount,
		spent_amount = EXCLUDED.spent_amount,
		committed_amount = EXCLUDED.committed_amount,
		available_amount = EXCLUDED.available_amount,
		status = EXCLUDED.status,
		version = EXCLUDED.version,
		updated_at = EXCLUDED.updated_at`

	_, err := p.db.ExecContext(ctx, query, a.ID, a.Department, a.Category, a.FiscalYear, a.Currency,
		a.AllocatedAmount, a.SpentAmount, a.CommittedAmount, a.AvailableAmount, a.Status, a.Version,
		a.CreatedAt, a.UpdatedAt)
	return err
}

func (p *PostgresBudgetStore) GetAllocation(ctx context.Context, id string) (models.BudgetAllocation, error) {
	const query = `SELECT ` + allocationColumns + ` FROM budget_allocations WHERE id = $1`

	a, err := scanAllocation(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.BudgetAllocation{}, mapError(err)
	}
	return a, nil
}

func (p *PostgresBudgetStore) ListAllocations(ctx context.Context, fiscalYear int) ([]models.BudgetAllocation, error) {
	const query = `SELECT ` + allocationColumns + ` FROM budget_allocations
	WHERE $1 = 0 OR fiscal_year = $1
	ORDER BY department, category`

	rows, err := p.db.QueryContext(ctx, query, fiscalYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocations := make([]models.BudgetAllocation, 0)
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return allocations, nil
}

const commitmentColumns = `id, commitment_number, allocation_id, amount, purpose, reference, status,
	created_by, created_at, released_by, released_at`

func scanCommitment(row interface{ Scan(...any) error }) (models.BudgetCommitment, error) {
	var c models.BudgetCommitment
	err := row.Scan(&c.ID, &c.CommitmentNumber, &c.AllocationID, &c.Amount, &c.Purpose, &c.Reference,
		&c.Status, &c.CreatedBy, &c.CreatedAt, &c.ReleasedBy, &c.ReleasedAt)
	return c, err
}

func (p *PostgresBudgetStore) GetCommitment(ctx context.Context, id string) (models.BudgetCommitment, error) {
	const query = `SELECT ` + commitmentColumns + ` FROM budget_commitments WHERE id = $1`

	c, err := scanCommitment(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.BudgetCommitment{}, mapError(err)
	}
	return c, nil
}

func (p *PostgresBudgetStore) ListCommitments(ctx context.Context, filter models.CommitmentFilter) ([]models.BudgetCommitment, error) {
	var (
		where []string
		args  []any
	)
	if filter.AllocationID != "" {
		args = append(args, filter.AllocationID)
		where = append(where, "allocation_id = $1")
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + commitmentColumns + ` FROM budget_commitments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commitments := make([]models.BudgetCommitment, 0)
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		commitments = append(commitments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return commitments, nil
}

func (p *PostgresBudgetStore) CreateCommitment(ctx context.Context, c models.BudgetCommitment, a models.BudgetAllocation) error {
	const insert = `INSERT INTO budget_commitments (` + commitmentColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	return withTx(ctx, p.db, func(tx *sql.Tx) error {
		if err := updateAllocation(ctx, tx, a); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, insert, c.ID, c.CommitmentNumber, c.AllocationID, c.Amount, c.Purpose,
			c.Reference, c.Status, c.CreatedBy, c.CreatedAt, c.ReleasedBy, c.ReleasedAt)
		return mapError(err)
	})
}

func (p *PostgresBudgetStore) ReleaseCommitment(ctx context.Context, c models.BudgetCommitment, a models.BudgetAllocation) error {
	const release = `UPDATE budget_commitments
	SET status = $2, released_by = $3, released_at = $4
	WHERE id = $1 AND status = 'Active'`

	return withTx(ctx, p.db, func(tx *sql.Tx) error {
		if err := updateAllocation(ctx, tx, a); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, release, c.ID, c.Status, c.ReleasedBy, c.ReleasedAt)
		if err != nil {
			return err
		}
		return expectOne(res)
	})
}

// updateAllocation writes the balance columns if the stored version is the
// one the caller read.
func updateAllocation(ctx context.Context, tx *sql.Tx, a models.BudgetAllocation) error {
	const query = `UPDATE budget_allocations
	SET committed_amount = $2, available_amount = $3, spent_amount = $4, version = $5, updated_at = $6
	WHERE id = $1 AND version = $7`

	res, err := tx.ExecContext(ctx, query, a.ID, a.CommittedAmount, a.AvailableAmount, a.SpentAmount,
		a.Version, a.UpdatedAt, a.Version-1)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		var exists int
		if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM budget_allocations WHERE id = $1`, a.ID).Scan(&exists); scanErr != nil {
			return storage.ErrNotFound
		}
		return err
	}
	return nil
}

var _ interfaces.BudgetStore = (*PostgresBudgetStore)(nil)
