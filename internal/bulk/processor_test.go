package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	"github.com/sheikh-saqib/public-sector-payments/internal/audit"
	"github.com/sheikh-saqib/public-sector-payments/internal/executor"
	"github.com/sheikh-saqib/public-sector-payments/internal/ledger"
	"github.com/sheikh-saqib/public-sector-payments/internal/lock"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage/memory"
)

func row(name, account string, amount int64) models.PaymentRow {
	return models.PaymentRow{
		BeneficiaryName:    name,
		BeneficiaryAccount: account,
		BeneficiaryBank:    "Equity",
		Amount:             decimal.NewFromInt(amount),
		Narration:          "stipend",
	}
}

func fiveRows() []models.PaymentRow {
	return []models.PaymentRow{
		row("Alice", "1000000001", 100),
		row("Bob", "12345", 200),
		row("Carol", "1000000003", 300),
		row("Dan", "", 0),
		row("Eve", "1000000005", 500),
	}
}

type harness struct {
	processor *Processor
	store     *memory.MemoryBatchStore
	oracle    *memory.BalanceOracle
	executor  *executor.Simulated
	sink      *audit.MemorySink
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := memory.NewMemoryBatchStore()
	oracle := memory.NewBalanceOracle()
	oracle.SetBalance("treasury", decimal.NewFromInt(1_000_000))
	exec := executor.NewSimulated()
	sink := audit.NewMemorySink()

	opts = append([]Option{WithAuditSink(sink), WithConcurrency(4)}, opts...)
	return &harness{
		processor: NewProcessor(store, oracle, exec, opts...),
		store:     store,
		oracle:    oracle,
		executor:  exec,
		sink:      sink,
	}
}

func (h *harness) upload(t *testing.T, rows []models.PaymentRow) models.BulkPaymentBatch {
	t.Helper()
	batch, err := h.processor.Upload(context.Background(), UploadInput{
		AccountID:  "treasury",
		UploadedBy: "clerk",
		Rows:       rows,
	})
	require.NoError(t, err)
	return batch
}

func (h *harness) items(t *testing.T, batchID string) []models.BulkPaymentItem {
	t.Helper()
	items, err := h.processor.Items(context.Background(), batchID)
	require.NoError(t, err)
	return items
}

func TestUploadKeepsFileOrder(t *testing.T) {
	h := newHarness(t)
	batch := h.upload(t, fiveRows())

	assert.Equal(t, models.BatchUploaded, batch.Status)
	assert.Equal(t, 5, batch.TotalCount)
	assert.True(t, batch.TotalAmount.Equal(decimal.NewFromInt(1100)))
	assert.Regexp(t, `^BULK-\d{8}-[0-9A-F]{8}$`, batch.BatchNumber)

	items := h.items(t, batch.ID)
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, i+1, item.ItemNumber)
		assert.Equal(t, models.ItemPending, item.Status)
	}
	assert.Equal(t, "Bob", items[1].Beneficiary.Name)
}

func TestUploadRejectsEmptyAndUnderfunded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.processor.Upload(ctx, UploadInput{AccountID: "treasury", UploadedBy: "clerk"})
	assert.True(t, apperr.Is(err, apperr.NoValidRecords))

	h.oracle.SetBalance("treasury", decimal.NewFromInt(1000))
	_, err = h.processor.Upload(ctx, UploadInput{AccountID: "treasury", UploadedBy: "clerk", Rows: fiveRows()})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InsufficientBalance))
	assert.Equal(t, "Insufficient balance. Required: KES 1,100.00, Available: KES 1,000.00", apperr.Message(err))

	batches, err := h.processor.ListBatches(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestUploadWithBatchIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	in := UploadInput{BatchID: "batch-42", AccountID: "treasury", UploadedBy: "clerk", Rows: fiveRows()}

	first, err := h.processor.Upload(ctx, in)
	require.NoError(t, err)
	in.Rows = in.Rows[:1]
	second, err := h.processor.Upload(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, h.items(t, "batch-42"), 5)
}

func TestValidateIsolatesInvalidItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch := h.upload(t, fiveRows())

	summary, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ValidCount)
	assert.Equal(t, 2, summary.InvalidCount)
	assert.Equal(t, models.BatchValidationFailed, summary.Status)
	assert.Equal(t, []ItemFailure{
		{ItemNumber: 2, Reason: "Invalid account number format"},
		{ItemNumber: 4, Reason: "Invalid account number format; Amount must be greater than zero"},
	}, summary.Failures)

	items := h.items(t, batch.ID)
	for _, n := range []int{0, 2, 4} {
		assert.Equal(t, models.ItemValidated, items[n].Status)
	}

	again, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	assert.Equal(t, summary, again)

	_, err = h.processor.Execute(ctx, batch.ID, "payer")
	assert.True(t, apperr.Is(err, apperr.BatchNotValidated))
}

func TestExecuteBeforeValidate(t *testing.T) {
	h := newHarness(t)
	batch := h.upload(t, fiveRows()[:1])

	_, err := h.processor.Execute(context.Background(), batch.ID, "payer")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.BatchNotValidated))
	assert.Equal(t, "Batch must be validated before processing. Current status: UPLOADED", apperr.Message(err))

	_, err = h.processor.Execute(context.Background(), "missing", "payer")
	assert.True(t, apperr.Is(err, apperr.BatchNotFound))
}

func validRows() []models.PaymentRow {
	return []models.PaymentRow{
		row("Alice", "1000000001", 100),
		row("Bob", "1000000002", 200),
		row("Carol", "1000000003", 300),
		row("Dan", "1000000004", 400),
		row("Eve", "1000000005", 500),
	}
}

func TestExecutePartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.executor.Block("1000000003", "account closed")
	batch := h.upload(t, validRows())

	_, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	summary, err := h.processor.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)

	assert.Equal(t, models.BatchPartiallyCompleted, summary.Status)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Zero(t, summary.RemainingCount)
	assert.True(t, summary.PaidAmount.Equal(decimal.NewFromInt(1200)))
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 3, summary.Failures[0].ItemNumber)
	assert.Contains(t, summary.Failures[0].Reason, "account closed")

	for _, item := range h.items(t, batch.ID) {
		assert.NotNil(t, item.ProcessedAt)
	}

	detail, err := h.processor.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartiallyCompleted, detail.Batch.Status)
	assert.NotNil(t, detail.Batch.ProcessedAt)
	assert.Equal(t, 4, detail.Counts[models.ItemSuccess])
}

func TestExecuteCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch := h.upload(t, validRows())

	_, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	summary, err := h.processor.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, summary.Status)
	assert.Equal(t, 5, summary.SuccessCount)
	assert.Empty(t, summary.Failures)

	batchEntries := h.sink.ForEntity(models.EntityBulkPaymentBatch, batch.ID)
	var actions []string
	for _, e := range batchEntries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{ActionBatchUploaded, ActionBatchValidated, ActionBatchCompleted}, actions)

	items := h.items(t, batch.ID)
	itemEntries := h.sink.ForEntity(models.EntityBulkPaymentItem, items[0].ID)
	require.Len(t, itemEntries, 2)
	assert.Equal(t, ActionItemValidated, itemEntries[0].Action)
	assert.Equal(t, ActionItemPaid, itemEntries[1].Action)
}

// countingExecutor records calls per beneficiary account and cancels the
// run when it reaches cancelAt.
type countingExecutor struct {
	mu       sync.Mutex
	calls    map[string]int
	total    int
	cancelAt int
	cancel   context.CancelFunc
}

func (c *countingExecutor) Execute(ctx context.Context, in models.PaymentInstruction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if c.cancel != nil && c.total == c.cancelAt {
		c.cancel()
		return ctx.Err()
	}
	c.calls[in.Beneficiary.Account]++
	return nil
}

func TestExecuteResumesAfterCancellation(t *testing.T) {
	store := memory.NewMemoryBatchStore()
	oracle := memory.NewBalanceOracle()
	oracle.SetBalance("treasury", decimal.NewFromInt(1_000_000))

	ctx, cancel := context.WithCancel(context.Background())
	exec := &countingExecutor{calls: make(map[string]int), cancelAt: 3, cancel: cancel}
	p := NewProcessor(store, oracle, exec, WithConcurrency(1))

	batch, err := p.Upload(context.Background(), UploadInput{AccountID: "treasury", UploadedBy: "clerk", Rows: validRows()})
	require.NoError(t, err)
	_, err = p.Validate(context.Background(), batch.ID, "checker")
	require.NoError(t, err)

	summary, err := p.Execute(ctx, batch.ID, "payer")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.BatchValidated, summary.Status)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 3, summary.RemainingCount)

	exec.cancel = nil
	summary, err = p.Execute(context.Background(), batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, summary.Status)
	assert.Equal(t, 5, summary.SuccessCount)

	for account, n := range exec.calls {
		assert.Equal(t, 1, n, "account %s paid more than once", account)
	}
	assert.Len(t, exec.calls, 5)
}

func TestExecuteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryBatchStore()
	oracle := memory.NewBalanceOracle()
	oracle.SetBalance("treasury", decimal.NewFromInt(1_000_000))
	exec := &countingExecutor{calls: make(map[string]int)}
	p := NewProcessor(store, oracle, exec)

	batch, err := p.Upload(ctx, UploadInput{AccountID: "treasury", UploadedBy: "clerk", Rows: validRows()})
	require.NoError(t, err)
	_, err = p.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)

	first, err := p.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	second, err := p.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 5, exec.total)
}

func TestExecuteCommitsBudgetPerItem(t *testing.T) {
	ctx := context.Background()
	budgets := memory.NewMemoryBudgetStore()
	require.NoError(t, budgets.SaveAllocation(ctx, models.BudgetAllocation{
		ID:              "alloc-1",
		FiscalYear:      2026,
		Currency:        "KES",
		AllocatedAmount: decimal.NewFromInt(1000),
		AvailableAmount: decimal.NewFromInt(1000),
		Status:          models.AllocationActive,
		Version:         1,
	}))
	h := newHarness(t, WithBudget(ledger.NewLedger(budgets)), WithConcurrency(1))
	h.executor.Block("1000000002", "frozen")

	batch, err := h.processor.Upload(ctx, UploadInput{
		AccountID:          "treasury",
		UploadedBy:         "clerk",
		BudgetAllocationID: "alloc-1",
		Rows:               validRows(),
	})
	require.NoError(t, err)
	_, err = h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)

	summary, err := h.processor.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartiallyCompleted, summary.Status)

	// 200 is blocked and its commitment released; after 100, 300 and 400 only
	// 200 is left, too little for 500.
	items := h.items(t, batch.ID)
	assert.Equal(t, models.ItemSuccess, items[0].Status)
	assert.Equal(t, models.ItemFailed, items[1].Status)
	assert.Equal(t, models.ItemSuccess, items[2].Status)
	assert.Equal(t, models.ItemSuccess, items[3].Status)
	assert.Equal(t, models.ItemFailed, items[4].Status)
	assert.True(t, strings.HasPrefix(items[4].ErrorMessage, "Insufficient budget."))

	released, err := budgets.GetCommitment(ctx, items[1].CommitmentID)
	require.NoError(t, err)
	assert.Equal(t, models.CommitmentReleased, released.Status)

	a, err := budgets.GetAllocation(ctx, "alloc-1")
	require.NoError(t, err)
	assert.True(t, a.CommittedAmount.Equal(decimal.NewFromInt(800)))
	assert.True(t, a.Balanced())
}

func TestDeriveStatus(t *testing.T) {
	items := func(statuses ...models.ItemStatus) []models.BulkPaymentItem {
		out := make([]models.BulkPaymentItem, len(statuses))
		for i, s := range statuses {
			out[i].Status = s
		}
		return out
	}

	assert.Equal(t, models.BatchUploaded, DeriveStatus(nil))
	assert.Equal(t, models.BatchUploaded, DeriveStatus(items(models.ItemPending, models.ItemValidated)))
	assert.Equal(t, models.BatchValidationFailed, DeriveStatus(items(models.ItemInvalid, models.ItemValidated)))
	assert.Equal(t, models.BatchValidated, DeriveStatus(items(models.ItemValidated, models.ItemSuccess)))
	assert.Equal(t, models.BatchValidated, DeriveStatus(items(models.ItemProcessing, models.ItemSuccess)))
	assert.Equal(t, models.BatchCompleted, DeriveStatus(items(models.ItemSuccess, models.ItemSuccess)))
	assert.Equal(t, models.BatchPartiallyCompleted, DeriveStatus(items(models.ItemSuccess, models.ItemFailed)))
}

func TestValidateRejectsSubCentAmounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rows := validRows()[:2]
	rows[1].Amount = decimal.RequireFromString("200.005")
	batch := h.upload(t, rows)

	summary, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ValidCount)
	assert.Equal(t, []ItemFailure{
		{ItemNumber: 2, Reason: "Amount must have at most 2 decimal places"},
	}, summary.Failures)
}

type errorExecutor struct{ err error }

func (e errorExecutor) Execute(ctx context.Context, in models.PaymentInstruction) error {
	return e.err
}

func TestExecuteHidesUnclassifiedExecutorErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryBatchStore()
	oracle := memory.NewBalanceOracle()
	oracle.SetBalance("treasury", decimal.NewFromInt(1_000_000))
	p := NewProcessor(store, oracle, errorExecutor{err: errors.New("dial tcp 10.0.0.7:443: connection refused")})

	batch, err := p.Upload(ctx, UploadInput{AccountID: "treasury", UploadedBy: "clerk", Rows: validRows()[:1]})
	require.NoError(t, err)
	_, err = p.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)

	summary, err := p.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, []ItemFailure{{ItemNumber: 1, Reason: "Payment execution failed"}}, summary.Failures)
}

func TestExecuteStoresExecutorRejectionMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.executor.Block("1000000001", "account closed")
	batch := h.upload(t, validRows()[:1])
	_, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)

	summary, err := h.processor.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, "Beneficiary rejected the payment: account closed", summary.Failures[0].Reason)
}

// claim puts an item into Processing as if a run had picked it up at claimedAt.
func (h *harness) claim(t *testing.T, item models.BulkPaymentItem, claimedAt time.Time) {
	t.Helper()
	item.Status = models.ItemProcessing
	item.ClaimedAt = &claimedAt
	require.NoError(t, h.store.UpdateItem(context.Background(), item, models.ItemValidated))
}

func TestExecuteLeavesFreshClaimsAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch := h.upload(t, validRows())
	_, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	h.claim(t, h.items(t, batch.ID)[0], time.Now().UTC())

	summary, err := h.processor.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, models.BatchValidated, summary.Status)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.Equal(t, 1, summary.RemainingCount)
	assert.Equal(t, models.ItemProcessing, h.items(t, batch.ID)[0].Status)
}

func TestExecuteFailsExpiredClaims(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithClaimTimeout(time.Minute))
	batch := h.upload(t, validRows())
	_, err := h.processor.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)
	h.claim(t, h.items(t, batch.ID)[0], time.Now().UTC().Add(-2*time.Minute))

	summary, err := h.processor.Execute(ctx, batch.ID, "payer")
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartiallyCompleted, summary.Status)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.Equal(t, []ItemFailure{{ItemNumber: 1, Reason: OutcomeUnknownReason}}, summary.Failures)
}

// handoffExecutor pays every instruction and runs handoff once, during the
// first payment.
type handoffExecutor struct {
	mu      sync.Mutex
	calls   map[string]int
	started atomic.Bool
	handoff func()
}

func (h *handoffExecutor) Execute(ctx context.Context, in models.PaymentInstruction) error {
	h.mu.Lock()
	h.calls[in.Beneficiary.Account]++
	h.mu.Unlock()

	if h.started.CompareAndSwap(false, true) {
		h.handoff()
	}
	return nil
}

func TestExecuteNeverPaysTwiceAfterLockExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.NewRedisLocker(client, lock.DefaultRedisOptions(), nil)

	store := memory.NewMemoryBatchStore()
	oracle := memory.NewBalanceOracle()
	oracle.SetBalance("treasury", decimal.NewFromInt(1_000_000))
	exec := &handoffExecutor{calls: make(map[string]int)}
	first := NewProcessor(store, oracle, exec, WithLocker(locker), WithConcurrency(1))
	second := NewProcessor(store, oracle, exec, WithLocker(locker), WithConcurrency(1))

	batch, err := first.Upload(ctx, UploadInput{AccountID: "treasury", UploadedBy: "clerk", Rows: validRows()})
	require.NoError(t, err)
	_, err = first.Validate(ctx, batch.ID, "checker")
	require.NoError(t, err)

	var (
		secondSummary ExecutionSummary
		secondErr     error
	)
	exec.handoff = func() {
		// The first run's lock expires while its payment is in flight and a
		// second instance takes over the batch.
		mr.FastForward(11 * time.Second)
		secondSummary, secondErr = second.Execute(ctx, batch.ID, "payer-b")
	}

	summary, err := first.Execute(ctx, batch.ID, "payer-a")
	require.NoError(t, err)
	require.NoError(t, secondErr)

	assert.Equal(t, 4, secondSummary.SuccessCount)
	assert.Equal(t, 1, secondSummary.RemainingCount)
	assert.Equal(t, models.BatchCompleted, summary.Status)
	assert.Equal(t, 5, summary.SuccessCount)

	assert.Len(t, exec.calls, 5)
	for account, n := range exec.calls {
		assert.Equal(t, 1, n, "account %s paid more than once", account)
	}
}
