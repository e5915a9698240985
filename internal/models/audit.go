package models

import "time"

// AuditEntry is an immutable record of a state transition.
type AuditEntry struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	EntityBudgetCommitment = "BudgetCommitment"
	EntityPaymentRequest   = "PaymentRequest"
	EntityBulkPaymentBatch = "BulkPaymentBatch"
	EntityBulkPaymentItem  = "BulkPaymentItem"
)
