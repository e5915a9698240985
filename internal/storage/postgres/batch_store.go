package postgres

import (
	"context"
	"database/sql"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

type PostgresBatchStore struct {
	db *sql.DB
}

func NewPostgresBatchStore(db *sql.DB) *PostgresBatchStore {
	return &PostgresBatchStore{db: db}
}

const batchColumns = `id, batch_number, account_id, budget_allocation_id, file_name, uploaded_by, currency,
	total_amount, total_count, status, uploaded_at, validated_at, processed_at`

func scanBatch(row interface{ Scan(...any) error }) (models.BulkPaymentBatch, error) {
	var b models.BulkPaymentBatch
	err := row.Scan(&b.ID, &b.BatchNumber, &b.AccountID, &b.BudgetAllocationID, &b.FileName, &b.UploadedBy,
		&b.Currency, &b.TotalAmount, &b.TotalCount, &b.Status, &b.UploadedAt, &b.ValidatedAt, &b.ProcessedAt)
	return b, err
}

const itemColumns = `id, batch_id, item_number, beneficiary_name, beneficiary_account, beneficiary_bank,
	amount, narration, reference, status, error_message, commitment_id, claimed_at, processed_at`

func (s *PostgresBatchStore) CreateBatch(ctx context.Context, b models.BulkPaymentBatch, items []models.BulkPaymentItem) error {
	const insertBatch = `INSERT INTO bulk_payment_batches (` + batchColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	const insertItem = `INSERT INTO bulk_payment_items (` + itemColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertBatch, b.ID, b.BatchNumber, b.AccountID, b.BudgetAllocationID,
			b.FileName, b.UploadedBy, b.Currency, b.TotalAmount, b.TotalCount, b.Status, b.UploadedAt,
			b.ValidatedAt, b.ProcessedAt)
		if err != nil {
			return mapError(err)
		}

		stmt, err := tx.PrepareContext(ctx, insertItem)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, it.ID, it.BatchID, it.ItemNumber, it.Beneficiary.Name,
				it.Beneficiary.Account, it.Beneficiary.Bank, it.Amount, it.Narration, it.Reference, it.Status,
				it.ErrorMessage, it.CommitmentID, it.ClaimedAt, it.ProcessedAt); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

func (s *PostgresBatchStore) GetBatch(ctx context.Context, id string) (models.BulkPaymentBatch, error) {
	const query = `SELECT ` + batchColumns + ` FROM bulk_payment_batches WHERE id = $1`

	b, err := scanBatch(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.BulkPaymentBatch{}, mapError(err)
	}
	return b, nil
}

func (s *PostgresBatchStore) ListBatches(ctx context.Context, status models.BatchStatus) ([]models.BulkPaymentBatch, error) {
	const query = `SELECT ` + batchColumns + ` FROM bulk_payment_batches
	WHERE $1 = '' OR status = $1
	ORDER BY uploaded_at DESC`

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]models.BulkPaymentBatch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *PostgresBatchStore) UpdateBatch(ctx context.Context, b models.BulkPaymentBatch) error {
	const query = `UPDATE bulk_payment_batches
	SET status = $2, validated_at = $3, processed_at = $4
	WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, b.ID, b.Status, b.ValidatedAt, b.ProcessedAt)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresBatchStore) ListItems(ctx context.Context, batchID string) ([]models.BulkPaymentItem, error) {
	const query = `SELECT ` + itemColumns + ` FROM bulk_payment_items
	WHERE batch_id = $1 ORDER BY item_number`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.BulkPaymentItem, 0)
	for rows.Next() {
		var it models.BulkPaymentItem
		if err := rows.Scan(&it.ID, &it.BatchID, &it.ItemNumber, &it.Beneficiary.Name, &it.Beneficiary.Account,
			&it.Beneficiary.Bank, &it.Amount, &it.Narration, &it.Reference, &it.Status, &it.ErrorMessage,
			&it.CommitmentID, &it.ClaimedAt, &it.ProcessedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateItem is guarded by the item's current status.
func (s *PostgresBatchStore) UpdateItem(ctx context.Context, it models.BulkPaymentItem, from models.ItemStatus) error {
	const query = `UPDATE bulk_payment_items
	SET status = $3, error_message = $4, commitment_id = $5, claimed_at = $6, processed_at = $7
	WHERE id = $1 AND batch_id = $2 AND status = $8`

	res, err := s.db.ExecContext(ctx, query, it.ID, it.BatchID, it.Status, it.ErrorMessage, it.CommitmentID,
		it.ClaimedAt, it.ProcessedAt, from)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		var exists int
		if scanErr := s.db.QueryRowContext(ctx, `SELECT 1 FROM bulk_payment_items WHERE id = $1`, it.ID).Scan(&exists); scanErr != nil {
			return storage.ErrNotFound
		}
		return err
	}
	return nil
}

var _ interfaces.BatchStore = (*PostgresBatchStore)(nil)
