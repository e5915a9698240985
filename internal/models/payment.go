package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentApproved PaymentStatus = "Approved"
	PaymentRejected PaymentStatus = "Rejected"
)

type ApprovalAction string

const (
	ActionApproved ApprovalAction = "APPROVED"
	ActionRejected ApprovalAction = "REJECTED"
)

// Beneficiary is the receiving party of a payment.
type Beneficiary struct {
	Name    string `json:"name"`
	Account string `json:"account"`
	Bank    string `json:"bank,omitempty"`
}

// PaymentRequest is a single maker-checker governed payment.
type PaymentRequest struct {
	ID                     string          `json:"id"`
	RequestNumber          string          `json:"request_number"`
	InitiatorID            string          `json:"initiator_id"`
	AccountID              string          `json:"account_id"`
	BudgetAllocationID     string          `json:"budget_allocation_id,omitempty"`
	CommitmentID           string          `json:"commitment_id,omitempty"`
	PaymentType            string          `json:"payment_type"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	Beneficiary            Beneficiary     `json:"beneficiary"`
	Purpose                string          `json:"purpose"`
	Reference              string          `json:"reference,omitempty"`
	Status                 PaymentStatus   `json:"status"`
	CurrentApprovalLevel   int             `json:"current_approval_level"`
	RequiredApprovalLevels int             `json:"required_approval_levels"`
	RejectionReason        string          `json:"rejection_reason,omitempty"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	ExecutedAt             *time.Time      `json:"executed_at,omitempty"`
}

// PaymentApproval is one immutable maker-checker decision.
type PaymentApproval struct {
	ID               string         `json:"id"`
	PaymentRequestID string         `json:"payment_request_id"`
	ApproverID       string         `json:"approver_id"`
	ApprovalLevel    int            `json:"approval_level"`
	Action           ApprovalAction `json:"action"`
	Comments         string         `json:"comments,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// PaymentFilter narrows payment listings. A zero Level matches every level.
type PaymentFilter struct {
	Status PaymentStatus
	Level  int
}

// PaymentInstruction is what the executor receives: enough to move funds
// for a single payment or batch item.
type PaymentInstruction struct {
	Reference     string          `json:"reference"`
	SourceAccount string          `json:"source_account"`
	Beneficiary   Beneficiary     `json:"beneficiary"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Narration     string          `json:"narration,omitempty"`
}
