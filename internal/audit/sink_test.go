package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/models/events"
	"github.com/sheikh-saqib/public-sector-payments/internal/retry"
)

type flakySink struct {
	failures int
	calls    int
	inner    *MemorySink
}

func (f *flakySink) Record(ctx context.Context, entry models.AuditEntry) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	return f.inner.Record(ctx, entry)
}

// contextSink refuses writes on a done context, like the database and
// broker sinks.
type contextSink struct {
	inner *MemorySink
}

func (c contextSink) Record(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.inner.Record(ctx, entry)
}

type capturePublisher struct {
	key   string
	event any
}

func (c *capturePublisher) Publish(ctx context.Context, key string, event any) error {
	c.key, c.event = key, event
	return nil
}

func TestRecorderStampsEntries(t *testing.T) {
	sink := NewMemorySink()
	r := NewRecorder(sink, nil)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Record(context.Background(), models.AuditEntry{EntityType: models.EntityPaymentRequest, EntityID: "p1", Action: "PAYMENT_INITIATED"})

	entries := sink.ForEntity(models.EntityPaymentRequest, "p1")
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, fixed, entries[0].Timestamp)
}

func TestRecorderDeliversAfterCallerCancels(t *testing.T) {
	inner := NewMemorySink()
	r := NewRecorder(contextSink{inner: inner}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, models.AuditEntry{EntityType: models.EntityBudgetCommitment, EntityID: "c1", Action: "BUDGET_COMMITMENT_CREATED"})

	assert.Len(t, inner.ForEntity(models.EntityBudgetCommitment, "c1"), 1)
}

func TestRecorderLogsDeliveryFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := NewRecorder(&flakySink{failures: 1, inner: NewMemorySink()}, zap.New(core))

	r.Record(context.Background(), models.AuditEntry{EntityType: "X", EntityID: "1", Action: "A"})

	assert.Equal(t, 1, logs.FilterMessage("audit entry not delivered").Len())
}

func TestRetryingSinkDeliversAfterTransientFailures(t *testing.T) {
	inner := NewMemorySink()
	flaky := &flakySink{failures: 2, inner: inner}
	sink := NewRetryingSink(flaky, retry.Policy{Attempts: 3, BaseDelay: time.Microsecond})

	require.NoError(t, sink.Record(context.Background(), models.AuditEntry{ID: "e1"}))
	assert.Equal(t, 3, flaky.calls)
	assert.Len(t, inner.Entries(), 1)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	good := NewMemorySink()
	bad := &flakySink{failures: 10, inner: NewMemorySink()}

	err := MultiSink{good, bad}.Record(context.Background(), models.AuditEntry{ID: "e1"})
	assert.Error(t, err)
	assert.Len(t, good.Entries(), 1)
}

func TestPublisherSinkKeysByEntity(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewPublisherSink(pub)

	require.NoError(t, sink.Record(context.Background(), models.AuditEntry{
		ID: "e1", EntityType: models.EntityBulkPaymentBatch, EntityID: "b1", Action: "BULK_PAYMENT_UPLOADED",
	}))

	assert.Equal(t, "BulkPaymentBatch:b1", pub.key)
	event, ok := pub.event.(events.AuditRecorded)
	require.True(t, ok)
	assert.Equal(t, "BULK_PAYMENT_UPLOADED", event.Action)
}

func TestLogSinkWritesEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLogSink(zap.New(core)).Record(context.Background(), models.AuditEntry{Action: "BUDGET_COMMITMENT_CREATED"}))
	assert.Equal(t, 1, logs.FilterMessage("audit").Len())
}
