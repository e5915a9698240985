package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AllocationStatus string

const (
	AllocationActive AllocationStatus = "Active"
	AllocationClosed AllocationStatus = "Closed"
)

type CommitmentStatus string

const (
	CommitmentActive   CommitmentStatus = "Active"
	CommitmentReleased CommitmentStatus = "Released"
)

// AlertLevel grades how much of an allocation is still available.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "NORMAL"
	AlertMedium   AlertLevel = "MEDIUM"
	AlertHigh     AlertLevel = "HIGH"
	AlertCritical AlertLevel = "CRITICAL"
)

// BudgetAllocation is a department/category/fiscal-year budget bucket.
// Allocated always equals Spent + Committed + Available.
type BudgetAllocation struct {
	ID              string           `json:"id"`
	Department      string           `json:"department"`
	Category        string           `json:"category"`
	FiscalYear      int              `json:"fiscal_year"`
	Currency        string           `json:"currency"`
	AllocatedAmount decimal.Decimal  `json:"allocated_amount"`
	SpentAmount     decimal.Decimal  `json:"spent_amount"`
	CommittedAmount decimal.Decimal  `json:"committed_amount"`
	AvailableAmount decimal.Decimal  `json:"available_amount"`
	Status          AllocationStatus `json:"status"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Balanced reports whether the allocation invariant holds.
func (a BudgetAllocation) Balanced() bool {
	return a.AllocatedAmount.Equal(a.SpentAmount.Add(a.CommittedAmount).Add(a.AvailableAmount))
}

// BudgetCommitment reserves part of an allocation until it is released.
type BudgetCommitment struct {
	ID               string           `json:"id"`
	CommitmentNumber string           `json:"commitment_number"`
	AllocationID     string           `json:"allocation_id"`
	Amount           decimal.Decimal  `json:"amount"`
	Purpose          string           `json:"purpose"`
	Reference        string           `json:"reference,omitempty"`
	Status           CommitmentStatus `json:"status"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	ReleasedBy       string           `json:"released_by,omitempty"`
	ReleasedAt       *time.Time       `json:"released_at,omitempty"`
}

// CommitmentFilter narrows commitment listings. Empty fields match all.
type CommitmentFilter struct {
	AllocationID string
	Status       CommitmentStatus
}
