// Package audit provides AuditSink implementations and the helper the
// services use to emit entries.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/models/events"
	"github.com/sheikh-saqib/public-sector-payments/internal/retry"
)

// Recorder stamps and delivers audit entries on behalf of a service.
// Delivery failures are logged, never returned: an audit outage must not
// undo a committed state transition.
type Recorder struct {
	sink   interfaces.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(sink interfaces.AuditSink, logger *zap.Logger) *Recorder {
	if sink == nil {
		sink = Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// Record fills in ID and Timestamp when unset and writes the entry. The
// entry describes a transition that is already committed, so delivery does
// not stop when ctx is cancelled.
func (r *Recorder) Record(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}

	if err := r.sink.Record(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("audit entry not delivered",
			zap.String("entry_id", entry.ID),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, models.AuditEntry) error { return nil }

// MemorySink keeps entries in memory, in arrival order.
type MemorySink struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(ctx context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemorySink) Entries() []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.AuditEntry, len(m.entries))
	copy(copied, m.entries)
	return copied
}

// ForEntity returns the entries for one entity.
func (m *MemorySink) ForEntity(entityType, entityID string) []models.AuditEntry {
	var out []models.AuditEntry
	for _, e := range m.Entries() {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes entries to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Record(ctx context.Context, entry models.AuditEntry) error {
	l.logger.Info("audit",
		zap.String("entry_id", entry.ID),
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID),
		zap.String("action", entry.Action),
		zap.String("actor_id", entry.ActorID),
		zap.String("before", entry.Before),
		zap.String("after", entry.After),
		zap.Time("timestamp", entry.Timestamp))
	return nil
}

// PublisherSink publishes entries as events.AuditRecorded messages.
type PublisherSink struct {
	publisher interfaces.EventPublisher
}

func NewPublisherSink(publisher interfaces.EventPublisher) *PublisherSink {
	return &PublisherSink{publisher: publisher}
}

func (p *PublisherSink) Record(ctx context.Context, entry models.AuditEntry) error {
	event := events.NewAuditRecorded(entry)
	return p.publisher.Publish(ctx, event.Key(), event)
}

// MultiSink writes every entry to all sinks and joins their errors.
type MultiSink []interfaces.AuditSink

func (m MultiSink) Record(ctx context.Context, entry models.AuditEntry) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RetryingSink retries failed writes. Together with immutable entries this
// gives at-least-once delivery for transient sink failures.
type RetryingSink struct {
	sink   interfaces.AuditSink
	policy retry.Policy
}

func NewRetryingSink(sink interfaces.AuditSink, policy retry.Policy) *RetryingSink {
	return &RetryingSink{sink: sink, policy: policy}
}

func (r *RetryingSink) Record(ctx context.Context, entry models.AuditEntry) error {
	return retry.Do(ctx, r.policy, func(error) bool { return true }, func(int) error {
		return r.sink.Record(ctx, entry)
	})
}

var (
	_ interfaces.AuditSink = Discard{}
	_ interfaces.AuditSink = (*MemorySink)(nil)
	_ interfaces.AuditSink = (*LogSink)(nil)
	_ interfaces.AuditSink = (*PublisherSink)(nil)
	_ interfaces.AuditSink = MultiSink(nil)
	_ interfaces.AuditSink = (*RetryingSink)(nil)
)
