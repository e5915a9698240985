package events

import (
	"time"

	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

// AuditRecorded is the message published for every audit entry.
type AuditRecorded struct {
	EntryID    string    `json:"entry_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewAuditRecorded(entry models.AuditEntry) AuditRecorded {
	return AuditRecorded{
		EntryID:    entry.ID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		Before:     entry.Before,
		After:      entry.After,
		OccurredAt: entry.Timestamp,
	}
}

// Key partitions audit messages by entity so one entity's history stays ordered.
func (e AuditRecorded) Key() string {
	return e.EntityType + ":" + e.EntityID
}
