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

type PostgresPaymentStore struct {
	db *sql.DB
}

func NewPostgresPaymentStore(db *sql.DB) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: db}
}

const paymentColumns = `id, request_number, initiator_id, account_id, budget_allocation_id, commitment_id,
	payment_type, amount, currency, beneficiary_name, beneficiary_account, beneficiary_bank, purpose,
	reference, status, current_approval_level, required_approval_levels, rejection_reason, version,
	created_at, updated_at, executed_at`

func scanPayment(row interface{ Scan(...any) error }) (models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := row.Scan(&p.ID, &p.RequestNumber, &p.InitiatorID, &p.AccountID, &p.BudgetAllocationID, &p.CommitmentID,
		&p.PaymentType, &p.Amount, &p.Currency, &p.Beneficiary.Name, &p.Beneficiary.Account, &p.Beneficiary.Bank,
		&p.Purpose, &p.Reference, &p.Status, &p.CurrentApprovalLevel, &p.RequiredApprovalLevels,
		&p.RejectionReason, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.ExecutedAt)
	return p, err
}

func (s *PostgresPaymentStore) CreatePayment(ctx context.Context, p models.PaymentRequest) error {
	const query = `INSERT INTO payment_requests (` + paymentColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.RequestNumber, p.InitiatorID, p.AccountID,
		p.BudgetAllocationID, p.CommitmentID, p.PaymentType, p.Amount, p.Currency, p.Beneficiary.Name,
		p.Beneficiary.Account, p.Beneficiary.Bank, p.Purpose, p.Reference, p.Status, p.CurrentApprovalLevel,
		p.RequiredApprovalLevels, p.RejectionReason, p.Version, p.CreatedAt, p.UpdatedAt, p.ExecutedAt)
	return mapError(err)
}

func (s *PostgresPaymentStore) GetPayment(ctx context.Context, id string) (models.PaymentRequest, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payment_requests WHERE id = $1`

	p, err := scanPayment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.PaymentRequest{}, mapError(err)
	}
	return p, nil
}

func (s *PostgresPaymentStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Level != 0 {
		args = append(args, filter.Level)
		where = append(where, "current_approval_level = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + paymentColumns + ` FROM payment_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]models.PaymentRequest, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// RecordDecision stores the payment if its version still matches and
// appends the approval. The unique (payment, level) constraint rejects a
// second decision at the same level.
func (s *PostgresPaymentStore) RecordDecision(ctx context.Context, p models.PaymentRequest, a models.PaymentApproval) error {
	const update = `UPDATE payment_requests
	SET status = $2, current_approval_level = $3, rejection_reason = $4, version = $5,
		updated_at = $6, executed_at = $7
	WHERE id = $1 AND version = $8`
	const insert = `INSERT INTO payment_approvals
	(id, payment_request_id, approver_id, approval_level, action, comments, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)`

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, update, p.ID, p.Status, p.CurrentApprovalLevel, p.RejectionReason,
			p.Version, p.UpdatedAt, p.ExecutedAt, p.Version-1)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			var exists int
			if scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM payment_requests WHERE id = $1`, p.ID).Scan(&exists); scanErr != nil {
				return storage.ErrNotFound
			}
			return err
		}

		_, err = tx.ExecContext(ctx, insert, a.ID, a.PaymentRequestID, a.ApproverID, a.ApprovalLevel,
			a.Action, a.Comments, a.Timestamp)
		return mapError(err)
	})
}

func (s *PostgresPaymentStore) ListApprovals(ctx context.Context, paymentID string) ([]models.PaymentApproval, error) {
	const query = `SELECT id, payment_request_id, approver_id, approval_level, action, comments, created_at
	FROM payment_approvals WHERE payment_request_id = $1
	ORDER BY approval_level, created_at`

	rows, err := s.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	approvals := make([]models.PaymentApproval, 0)
	for rows.Next() {
		var a models.PaymentApproval
		if err := rows.Scan(&a.ID, &a.PaymentRequestID, &a.ApproverID, &a.ApprovalLevel, &a.Action,
			&a.Comments, &a.Timestamp); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return approvals, nil
}

var _ interfaces.PaymentStore = (*PostgresPaymentStore)(nil)
