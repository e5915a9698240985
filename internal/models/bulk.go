package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchUploaded           BatchStatus = "UPLOADED"
	BatchValidated          BatchStatus = "VALIDATED"
	BatchValidationFailed   BatchStatus = "VALIDATION_FAILED"
	BatchCompleted          BatchStatus = "COMPLETED"
	BatchPartiallyCompleted BatchStatus = "PARTIALLY_COMPLETED"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemValidated ItemStatus = "VALIDATED"
	ItemInvalid   ItemStatus = "INVALID"
	ItemSuccess   ItemStatus = "SUCCESS"
	ItemFailed    ItemStatus = "FAILED"
	// ItemProcessing marks an item handed to the executor and not yet settled.
	ItemProcessing ItemStatus = "PROCESSING"
)

// BulkPaymentBatch is one uploaded payment file.
type BulkPaymentBatch struct {
	ID                 string          `json:"id"`
	BatchNumber        string          `json:"batch_number"`
	AccountID          string          `json:"account_id"`
	BudgetAllocationID string          `json:"budget_allocation_id,omitempty"`
	FileName           string          `json:"file_name,omitempty"`
	UploadedBy         string          `json:"uploaded_by"`
	Currency           string          `json:"currency"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalCount         int             `json:"total_count"`
	Status             BatchStatus     `json:"status"`
	UploadedAt         time.Time       `json:"uploaded_at"`
	ValidatedAt        *time.Time      `json:"validated_at,omitempty"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
}

// BulkPaymentItem is one row of a batch. ItemNumber is its 1-based position
// in the uploaded file.
type BulkPaymentItem struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	ItemNumber   int             `json:"item_number"`
	Beneficiary  Beneficiary     `json:"beneficiary"`
	Amount       decimal.Decimal `json:"amount"`
	Narration    string          `json:"narration,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	Status       ItemStatus      `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CommitmentID string          `json:"commitment_id,omitempty"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// PaymentRow is a parsed line of a bulk payment file.
type PaymentRow struct {
	BeneficiaryName    string          `json:"beneficiary_name"`
	BeneficiaryAccount string          `json:"beneficiary_account"`
	BeneficiaryBank    string          `json:"beneficiary_bank"`
	Amount             decimal.Decimal `json:"amount"`
	Narration          string          `json:"narration"`
	Reference          string          `json:"reference"`
}
