package interfaces

import (
	"context"

	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

// BudgetStore persists allocations and commitments. Writes that change an
// allocation are compare-and-swap: the stored Version must equal
// allocation.Version-1, otherwise storage.ErrConflict is returned.
type BudgetStore interface {
	SaveAllocation(ctx context.Context, allocation models.BudgetAllocation) error
	GetAllocation(ctx context.Context, id string) (models.BudgetAllocation, error)
	ListAllocations(ctx context.Context, fiscalYear int) ([]models.BudgetAllocation, error)

	GetCommitment(ctx context.Context, id string) (models.BudgetCommitment, error)
	ListCommitments(ctx context.Context, filter models.CommitmentFilter) ([]models.BudgetCommitment, error)

	// CreateCommitment inserts an Active commitment and stores the updated
	// allocation in one atomic step.
	CreateCommitment(ctx context.Context, commitment models.BudgetCommitment, allocation models.BudgetAllocation) error
	// ReleaseCommitment marks a still Active commitment Released and stores
	// the updated allocation in one atomic step.
	ReleaseCommitment(ctx context.Context, commitment models.BudgetCommitment, allocation models.BudgetAllocation) error
}

// PaymentStore persists payment requests and their approval history.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment models.PaymentRequest) error
	GetPayment(ctx context.Context, id string) (models.PaymentRequest, error)
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRequest, error)

	// RecordDecision appends the approval and stores the updated payment if
	// the stored Version equals payment.Version-1.
	RecordDecision(ctx context.Context, payment models.PaymentRequest, approval models.PaymentApproval) error
	ListApprovals(ctx context.Context, paymentID string) ([]models.PaymentApproval, error)
}

// BatchStore persists bulk payment batches and their items.
type BatchStore interface {
	// CreateBatch returns storage.ErrConflict when a batch with the same ID exists.
	CreateBatch(ctx context.Context, batch models.BulkPaymentBatch, items []models.BulkPaymentItem) error
	GetBatch(ctx context.Context, id string) (models.BulkPaymentBatch, error)
	ListBatches(ctx context.Context, status models.BatchStatus) ([]models.BulkPaymentBatch, error)
	UpdateBatch(ctx context.Context, batch models.BulkPaymentBatch) error

	// ListItems returns the batch items ordered by ItemNumber.
	ListItems(ctx context.Context, batchID string) ([]models.BulkPaymentItem, error)
	// UpdateItem stores item only if the stored status is still from.
	UpdateItem(ctx context.Context, item models.BulkPaymentItem, from models.ItemStatus) error
}
