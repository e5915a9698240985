// Package bulk uploads, validates and executes bulk payment batches. Each
// item succeeds or fails on its own; a failed item never stops the batch.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	"github.com/sheikh-saqib/public-sector-payments/internal/audit"
	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/ledger"
	"github.com/sheikh-saqib/public-sector-payments/internal/lock"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

const (
	ActionBatchUploaded           = "BATCH_UPLOADED"
	ActionBatchValidated          = "BATCH_VALIDATED"
	ActionBatchValidationFailed   = "BATCH_VALIDATION_FAILED"
	ActionBatchCompleted          = "BATCH_COMPLETED"
	ActionBatchPartiallyCompleted = "BATCH_PARTIALLY_COMPLETED"
	ActionItemValidated           = "ITEM_VALIDATED"
	ActionItemInvalid             = "ITEM_INVALID"
	ActionItemPaid                = "ITEM_PAID"
	ActionItemFailed              = "ITEM_FAILED"

	DefaultConcurrency = 8
	// DefaultClaimTimeout bounds how long an item may stay Processing before a
	// later run gives up on it.
	DefaultClaimTimeout = 15 * time.Minute

	// OutcomeUnknownReason is stored on items whose claim expired.
	OutcomeUnknownReason = "Payment outcome unknown; reconcile before retrying"

	minAccountLength = 10
)

// Budget is the part of the budget ledger used when a batch draws on an
// allocation.
type Budget interface {
	Commit(ctx context.Context, in ledger.CommitInput) (models.BudgetCommitment, error)
	Release(ctx context.Context, commitmentID, actorID string) (models.BudgetCommitment, error)
}

type Processor struct {
	store        interfaces.BatchStore
	oracle       interfaces.AccountBalanceOracle
	executor     interfaces.PaymentExecutor
	budget       Budget
	locker       interfaces.Locker
	sink         interfaces.AuditSink
	audit        *audit.Recorder
	logger       *zap.Logger
	concurrency  int
	claimTimeout time.Duration
	currency     string
	now          func() time.Time
}

type Option func(*Processor)

// WithBudget enables per-item budget commits for batches that name an
// allocation.
func WithBudget(budget Budget) Option {
	return func(p *Processor) { p.budget = budget }
}

func WithLocker(locker interfaces.Locker) Option {
	return func(p *Processor) { p.locker = locker }
}

func WithAuditSink(sink interfaces.AuditSink) Option {
	return func(p *Processor) { p.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithConcurrency bounds how many items are validated or executed at once.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithClaimTimeout sets how old a Processing claim must be before Execute
// marks the item Failed with an unknown outcome.
func WithClaimTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.claimTimeout = d
		}
	}
}

func WithDefaultCurrency(currency string) Option {
	return func(p *Processor) { p.currency = currency }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(store interfaces.BatchStore, oracle interfaces.AccountBalanceOracle, executor interfaces.PaymentExecutor, opts ...Option) *Processor {
	p := &Processor{
		store:        store,
		oracle:       oracle,
		executor:     executor,
		locker:       lock.NewKeyedMutex(),
		logger:       zap.NewNop(),
		concurrency:  DefaultConcurrency,
		claimTimeout: DefaultClaimTimeout,
		currency:     "KES",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.audit = audit.NewRecorder(p.sink, p.logger)
	return p
}

type UploadInput struct {
	// BatchID is optional. When set, uploading the same ID twice returns the
	// first batch unchanged.
	BatchID            string
	AccountID          string
	UploadedBy         string
	FileName           string
	Currency           string
	BudgetAllocationID string
	Rows               []models.PaymentRow
}

// Upload stores the rows as a batch of Pending items, provided the source
// account can cover the batch total. Nothing is stored on failure.
func (p *Processor) Upload(ctx context.Context, in UploadInput) (models.BulkPaymentBatch, error) {
	if strings.TrimSpace(in.UploadedBy) == "" {
		return models.BulkPaymentBatch{}, apperr.New(apperr.InvalidInput, "Uploader is required")
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return models.BulkPaymentBatch{}, apperr.New(apperr.InvalidInput, "Source account is required")
	}
	if in.BudgetAllocationID != "" && p.budget == nil {
		return models.BulkPaymentBatch{}, apperr.New(apperr.InvalidInput, "Budget allocations are not available")
	}

	if in.BatchID != "" {
		existing, err := p.store.GetBatch(ctx, in.BatchID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return models.BulkPaymentBatch{}, apperr.Internalf(err, "load batch")
		}
	}

	if len(in.Rows) == 0 {
		return models.BulkPaymentBatch{}, apperr.New(apperr.NoValidRecords, "No valid records found in file")
	}

	currency := in.Currency
	if currency == "" {
		currency = p.currency
	}
	total := decimal.Zero
	for _, row := range in.Rows {
		total = total.Add(row.Amount)
	}

	balance, err := p.oracle.Balance(ctx, in.AccountID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.BulkPaymentBatch{}, apperr.Internalf(err, "read account balance")
	}
	if balance.LessThan(total) {
		msg := fmt.Sprintf("Insufficient balance. Required: %s, Available: %s",
			models.FormatMoney(currency, total), models.FormatMoney(currency, balance))
		return models.BulkPaymentBatch{}, apperr.WithDetails(apperr.InsufficientBalance, msg, map[string]any{
			"account_id": in.AccountID,
			"required":   total.StringFixed(2),
			"available":  balance.StringFixed(2),
		})
	}

	now := p.now().UTC()
	id := in.BatchID
	if id == "" {
		id = uuid.NewString()
	}
	batch := models.BulkPaymentBatch{
		ID:                 id,
		BatchNumber:        models.DocumentNumber("BULK", id, now),
		AccountID:          in.AccountID,
		BudgetAllocationID: in.BudgetAllocationID,
		FileName:           in.FileName,
		UploadedBy:         in.UploadedBy,
		Currency:           currency,
		TotalAmount:        total,
		TotalCount:         len(in.Rows),
		Status:             models.BatchUploaded,
		UploadedAt:         now,
	}

	items := make([]models.BulkPaymentItem, 0, len(in.Rows))
	for i, row := range in.Rows {
		items = append(items, models.BulkPaymentItem{
			ID:         uuid.NewString(),
			BatchID:    batch.ID,
			ItemNumber: i + 1,
			Beneficiary: models.Beneficiary{
				Name:    row.BeneficiaryName,
				Account: row.BeneficiaryAccount,
				Bank:    row.BeneficiaryBank,
			},
			Amount:    row.Amount,
			Narration: row.Narration,
			Reference: row.Reference,
			Status:    models.ItemPending,
		})
	}

	if err := p.store.CreateBatch(ctx, batch, items); err != nil {
		if errors.Is(err, storage.ErrConflict) && in.BatchID != "" {
			// Lost a race with an identical upload.
			return p.loadBatch(ctx, in.BatchID)
		}
		return models.BulkPaymentBatch{}, apperr.Internalf(err, "create batch")
	}

	p.logger.Info("bulk batch uploaded",
		zap.String("batch_id", batch.ID),
		zap.String("batch_number", batch.BatchNumber),
		zap.Int("items", batch.TotalCount),
		zap.String("total", batch.TotalAmount.StringFixed(2)),
		zap.String("uploaded_by", batch.UploadedBy))
	p.audit.Record(ctx, models.AuditEntry{
		EntityType: models.EntityBulkPaymentBatch,
		EntityID:   batch.ID,
		Action:     ActionBatchUploaded,
		ActorID:    batch.UploadedBy,
		After:      fmt.Sprintf("status=%s items=%d total=%s", batch.Status, batch.TotalCount, batch.TotalAmount.StringFixed(2)),
		Timestamp:  now,
	})
	return batch, nil
}

// UploadFile reads rows from a payment file and uploads them. Rows already
// present in in are replaced.
func (p *Processor) UploadFile(ctx context.Context, in UploadInput, file io.Reader) (models.BulkPaymentBatch, error) {
	rows, err := ReadRows(file)
	if err != nil {
		return models.BulkPaymentBatch{}, apperr.Wrap(err, apperr.InvalidInput, "Payment file could not be read")
	}
	in.Rows = rows
	return p.Upload(ctx, in)
}

// ItemFailure names one invalid or failed item.
type ItemFailure struct {
	ItemNumber int    `json:"item_number"`
	Reason     string `json:"reason"`
}

type ValidationSummary struct {
	BatchID      string             `json:"batch_id"`
	BatchNumber  string             `json:"batch_number"`
	Status       models.BatchStatus `json:"status"`
	TotalCount   int                `json:"total_count"`
	ValidCount   int                `json:"valid_count"`
	InvalidCount int                `json:"invalid_count"`
	Failures     []ItemFailure      `json:"failures"`
}

// Validate checks every Pending item independently. Calling it again only
// touches items that are still Pending.
func (p *Processor) Validate(ctx context.Context, batchID, actorID string) (ValidationSummary, error) {
	if strings.TrimSpace(actorID) == "" {
		return ValidationSummary{}, apperr.New(apperr.InvalidInput, "Actor is required")
	}

	var summary ValidationSummary
	err := p.locker.WithLock(ctx, batchKey(batchID), func(ctx context.Context) error {
		batch, err := p.loadBatch(ctx, batchID)
		if err != nil {
			return err
		}
		items, err := p.listItems(ctx, batchID)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for _, item := range items {
			if item.Status != models.ItemPending {
				continue
			}
			g.Go(func() error {
				return p.validateItem(gctx, item, actorID)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		items, err = p.listItems(ctx, batchID)
		if err != nil {
			return err
		}
		batch, err = p.settleBatch(ctx, batch, items, actorID)
		if err != nil {
			return err
		}

		summary = ValidationSummary{
			BatchID:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Status:      batch.Status,
			TotalCount:  len(items),
			Failures:    failures(items, models.ItemInvalid),
		}
		for _, item := range items {
			switch item.Status {
			case models.ItemInvalid:
				summary.InvalidCount++
			case models.ItemValidated, models.ItemProcessing, models.ItemSuccess, models.ItemFailed:
				summary.ValidCount++
			}
		}
		return nil
	})
	if err != nil {
		return ValidationSummary{}, lockedOut(err)
	}

	p.logger.Info("bulk batch validated",
		zap.String("batch_id", summary.BatchID),
		zap.Int("valid", summary.ValidCount),
		zap.Int("invalid", summary.InvalidCount))
	return summary, nil
}

func (p *Processor) validateItem(ctx context.Context, item models.BulkPaymentItem, actorID string) error {
	next := item
	action := ActionItemValidated
	if problems := Problems(item); len(problems) > 0 {
		next.Status = models.ItemInvalid
		next.ErrorMessage = strings.Join(problems, "; ")
		action = ActionItemInvalid
	} else {
		next.Status = models.ItemValidated
		next.ErrorMessage = ""
	}

	if err := p.store.UpdateItem(ctx, next, models.ItemPending); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		return apperr.Internalf(err, "update item")
	}
	p.recordItem(ctx, item, next, action, actorID)
	return nil
}

// Problems lists every rule the item breaks.
func Problems(item models.BulkPaymentItem) []string {
	var problems []string
	if len(strings.TrimSpace(item.Beneficiary.Account)) < minAccountLength {
		problems = append(problems, "Invalid account number format")
	}
	if !item.Amount.IsPositive() {
		problems = append(problems, "Amount must be greater than zero")
	}
	if !models.InMinorUnits(item.Amount) {
		problems = append(problems, "Amount must have at most 2 decimal places")
	}
	return problems
}

type ExecutionSummary struct {
	BatchID      string             `json:"batch_id"`
	BatchNumber  string             `json:"batch_number"`
	Status       models.BatchStatus `json:"status"`
	TotalCount   int                `json:"total_count"`
	SuccessCount int                `json:"success_count"`
	FailedCount  int                `json:"failed_count"`
	// RemainingCount is the number of items still Validated or Processing,
	// non-zero only when execution was interrupted or another run holds them.
	RemainingCount int             `json:"remaining_count"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Failures       []ItemFailure   `json:"failures"`
}

// Execute pays every Validated item. Each item is claimed as Processing
// before it reaches the executor, so two runs never pay the same item. Items
// already Success or Failed are never retried, so an interrupted run can
// simply be called again.
func (p *Processor) Execute(ctx context.Context, batchID, actorID string) (ExecutionSummary, error) {
	if strings.TrimSpace(actorID) == "" {
		return ExecutionSummary{}, apperr.New(apperr.InvalidInput, "Actor is required")
	}

	var summary ExecutionSummary
	err := p.locker.WithLock(ctx, batchKey(batchID), func(ctx context.Context) error {
		batch, err := p.loadBatch(ctx, batchID)
		if err != nil {
			return err
		}
		items, err := p.listItems(ctx, batchID)
		if err != nil {
			return err
		}
		if items, err = p.expireClaims(ctx, items, actorID); err != nil {
			return err
		}

		status := DeriveStatus(items)
		switch status {
		case models.BatchValidated:
		case models.BatchCompleted, models.BatchPartiallyCompleted:
			summary = executionSummary(batch, items)
			return nil
		default:
			return apperr.New(apperr.BatchNotValidated,
				fmt.Sprintf("Batch must be validated before processing. Current status: %s", status))
		}

		// Item writes and compensations must land even if ctx is cancelled
		// after the executor accepted a payment.
		durable := context.WithoutCancel(ctx)
		g := new(errgroup.Group)
		g.SetLimit(p.concurrency)
		for _, item := range items {
			if item.Status != models.ItemValidated {
				continue
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				return p.executeItem(ctx, durable, batch, item, actorID)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		items, err = p.listItems(durable, batchID)
		if err != nil {
			return err
		}
		batch, err = p.settleBatch(durable, batch, items, actorID)
		if err != nil {
			return err
		}
		summary = executionSummary(batch, items)
		return ctx.Err()
	})
	if err != nil {
		if summary.BatchID != "" {
			return summary, err
		}
		return ExecutionSummary{}, lockedOut(err)
	}

	p.logger.Info("bulk batch executed",
		zap.String("batch_id", summary.BatchID),
		zap.String("status", string(summary.Status)),
		zap.Int("success", summary.SuccessCount),
		zap.Int("failed", summary.FailedCount))
	return summary, nil
}

// executeItem claims the item, commits budget if the batch draws on an
// allocation, calls the executor and records the outcome. ctx governs the
// payment itself; durable is used for bookkeeping.
func (p *Processor) executeItem(ctx, durable context.Context, batch models.BulkPaymentBatch, item models.BulkPaymentItem, actorID string) error {
	claimedAt := p.now().UTC()
	next := item
	next.Status = models.ItemProcessing
	next.ClaimedAt = &claimedAt
	if err := p.store.UpdateItem(durable, next, models.ItemValidated); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Claimed or settled by another run.
			return nil
		}
		return apperr.Internalf(err, "claim item")
	}

	if batch.BudgetAllocationID != "" {
		if ctx.Err() != nil {
			return p.unclaim(durable, item)
		}
		commitment, err := p.budget.Commit(durable, ledger.CommitInput{
			AllocationID: batch.BudgetAllocationID,
			Amount:       item.Amount,
			Purpose:      item.Narration,
			Reference:    itemReference(batch, item),
			ActorID:      actorID,
		})
		if err != nil {
			return p.failItem(durable, item, next, apperr.Message(err), actorID)
		}
		next.CommitmentID = commitment.ID
		if err := p.store.UpdateItem(durable, next, models.ItemProcessing); err != nil {
			p.releaseItemBudget(durable, next, actorID)
			return apperr.Internalf(err, "update item")
		}
	}

	err := p.executor.Execute(ctx, models.PaymentInstruction{
		Reference:     itemReference(batch, item),
		SourceAccount: batch.AccountID,
		Beneficiary:   item.Beneficiary,
		Amount:        item.Amount,
		Currency:      batch.Currency,
		Narration:     item.Narration,
	})
	if err != nil {
		p.releaseItemBudget(durable, next, actorID)
		if ctx.Err() != nil {
			// Not attempted; the item goes back to Validated for the next run.
			return p.unclaim(durable, item)
		}
		return p.failItem(durable, item, next, apperr.Message(executionError(err)), actorID)
	}

	processed := p.now().UTC()
	next.Status = models.ItemSuccess
	next.ProcessedAt = &processed
	if err := p.store.UpdateItem(durable, next, models.ItemProcessing); err != nil {
		return apperr.Internalf(err, "update item")
	}
	p.recordItem(durable, item, next, ActionItemPaid, actorID)
	return nil
}

// executionError classifies an executor failure that carries no code.
func executionError(err error) error {
	if apperr.Code(err) != "" {
		return err
	}
	return apperr.Wrap(err, apperr.ExecutionFailed, "Payment execution failed")
}

// unclaim returns a claimed item to its Validated state.
func (p *Processor) unclaim(ctx context.Context, item models.BulkPaymentItem) error {
	if err := p.store.UpdateItem(ctx, item, models.ItemProcessing); err != nil && !errors.Is(err, storage.ErrConflict) {
		return apperr.Internalf(err, "release item claim")
	}
	return nil
}

func (p *Processor) failItem(ctx context.Context, item, next models.BulkPaymentItem, reason, actorID string) error {
	processed := p.now().UTC()
	next.Status = models.ItemFailed
	next.ErrorMessage = reason
	next.ProcessedAt = &processed
	if err := p.store.UpdateItem(ctx, next, models.ItemProcessing); err != nil {
		return apperr.Internalf(err, "update item")
	}
	p.logger.Warn("bulk item failed",
		zap.String("batch_id", item.BatchID),
		zap.Int("item_number", item.ItemNumber),
		zap.String("reason", reason))
	p.recordItem(ctx, item, next, ActionItemFailed, actorID)
	return nil
}

// expireClaims fails items that have been Processing longer than the claim
// timeout. Whether their payment reached the executor is unknown, so any
// budget commitment is kept for reconciliation.
func (p *Processor) expireClaims(ctx context.Context, items []models.BulkPaymentItem, actorID string) ([]models.BulkPaymentItem, error) {
	cutoff := p.now().UTC().Add(-p.claimTimeout)
	for i, item := range items {
		if item.Status != models.ItemProcessing {
			continue
		}
		if item.ClaimedAt != nil && item.ClaimedAt.After(cutoff) {
			continue
		}

		processed := p.now().UTC()
		next := item
		next.Status = models.ItemFailed
		next.ErrorMessage = OutcomeUnknownReason
		next.ProcessedAt = &processed
		if err := p.store.UpdateItem(ctx, next, models.ItemProcessing); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return nil, apperr.Internalf(err, "expire item claim")
		}
		p.logger.Error("bulk item claim expired",
			zap.String("batch_id", item.BatchID),
			zap.Int("item_number", item.ItemNumber),
			zap.String("commitment_id", item.CommitmentID))
		p.recordItem(ctx, item, next, ActionItemFailed, actorID)
		items[i] = next
	}
	return items, nil
}

func (p *Processor) releaseItemBudget(ctx context.Context, item models.BulkPaymentItem, actorID string) {
	if item.CommitmentID == "" {
		return
	}
	if _, err := p.budget.Release(ctx, item.CommitmentID, actorID); err != nil && !apperr.Is(err, apperr.CommitmentNotActive) {
		p.logger.Error("budget commitment not released",
			zap.String("batch_id", item.BatchID),
			zap.Int("item_number", item.ItemNumber),
			zap.String("commitment_id", item.CommitmentID),
			zap.Error(err))
	}
}

// settleBatch stores the status derived from items and audits a change.
func (p *Processor) settleBatch(ctx context.Context, batch models.BulkPaymentBatch, items []models.BulkPaymentItem, actorID string) (models.BulkPaymentBatch, error) {
	status := DeriveStatus(items)
	if status == batch.Status {
		return batch, nil
	}

	now := p.now().UTC()
	next := batch
	next.Status = status
	switch status {
	case models.BatchValidated, models.BatchValidationFailed:
		if next.ValidatedAt == nil {
			next.ValidatedAt = &now
		}
	case models.BatchCompleted, models.BatchPartiallyCompleted:
		next.ProcessedAt = &now
	}
	if err := p.store.UpdateBatch(ctx, next); err != nil {
		return models.BulkPaymentBatch{}, apperr.Internalf(err, "update batch")
	}

	if action := batchAction(status); action != "" {
		p.audit.Record(ctx, models.AuditEntry{
			EntityType: models.EntityBulkPaymentBatch,
			EntityID:   batch.ID,
			Action:     action,
			ActorID:    actorID,
			Before:     "status=" + string(batch.Status),
			After:      "status=" + string(status),
			Timestamp:  now,
		})
	}
	return next, nil
}

func batchAction(status models.BatchStatus) string {
	switch status {
	case models.BatchValidated:
		return ActionBatchValidated
	case models.BatchValidationFailed:
		return ActionBatchValidationFailed
	case models.BatchCompleted:
		return ActionBatchCompleted
	case models.BatchPartiallyCompleted:
		return ActionBatchPartiallyCompleted
	}
	return ""
}

func (p *Processor) recordItem(ctx context.Context, before, after models.BulkPaymentItem, action, actorID string) {
	entry := models.AuditEntry{
		EntityType: models.EntityBulkPaymentItem,
		EntityID:   after.ID,
		Action:     action,
		ActorID:    actorID,
		Before:     fmt.Sprintf("batch=%s item=%d status=%s", before.BatchID, before.ItemNumber, before.Status),
		After:      fmt.Sprintf("batch=%s item=%d status=%s", after.BatchID, after.ItemNumber, after.Status),
	}
	if after.ErrorMessage != "" {
		entry.After += " error=" + strconv.Quote(after.ErrorMessage)
	}
	p.audit.Record(ctx, entry)
}

// DeriveStatus computes a batch status from its items. Any Pending item
// means the batch is still Uploaded; any Invalid item fails validation; a
// batch with Validated or Processing items left is Validated; otherwise it
// is Completed or, with at least one Failed item, PartiallyCompleted.
func DeriveStatus(items []models.BulkPaymentItem) models.BatchStatus {
	var pending, invalid, validated, failed int
	for _, item := range items {
		switch item.Status {
		case models.ItemPending:
			pending++
		case models.ItemInvalid:
			invalid++
		case models.ItemValidated, models.ItemProcessing:
			validated++
		case models.ItemFailed:
			failed++
		}
	}

	switch {
	case pending > 0 || len(items) == 0:
		return models.BatchUploaded
	case invalid > 0:
		return models.BatchValidationFailed
	case validated > 0:
		return models.BatchValidated
	case failed > 0:
		return models.BatchPartiallyCompleted
	default:
		return models.BatchCompleted
	}
}

func executionSummary(batch models.BulkPaymentBatch, items []models.BulkPaymentItem) ExecutionSummary {
	s := ExecutionSummary{
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		Status:      batch.Status,
		TotalCount:  len(items),
		PaidAmount:  decimal.Zero,
		Failures:    failures(items, models.ItemFailed),
	}
	for _, item := range items {
		switch item.Status {
		case models.ItemSuccess:
			s.SuccessCount++
			s.PaidAmount = s.PaidAmount.Add(item.Amount)
		case models.ItemFailed:
			s.FailedCount++
		case models.ItemValidated, models.ItemProcessing:
			s.RemainingCount++
		}
	}
	return s
}

func failures(items []models.BulkPaymentItem, status models.ItemStatus) []ItemFailure {
	out := make([]ItemFailure, 0)
	for _, item := range items {
		if item.Status == status {
			out = append(out, ItemFailure{ItemNumber: item.ItemNumber, Reason: item.ErrorMessage})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemNumber < out[j].ItemNumber })
	return out
}

// BatchDetail is a batch with item counts per status.
type BatchDetail struct {
	Batch    models.BulkPaymentBatch   `json:"batch"`
	Counts   map[models.ItemStatus]int `json:"counts"`
	Failures []ItemFailure             `json:"failures"`
}

func (p *Processor) GetBatch(ctx context.Context, batchID string) (BatchDetail, error) {
	batch, err := p.loadBatch(ctx, batchID)
	if err != nil {
		return BatchDetail{}, err
	}
	items, err := p.listItems(ctx, batchID)
	if err != nil {
		return BatchDetail{}, err
	}

	detail := BatchDetail{Batch: batch, Counts: make(map[models.ItemStatus]int)}
	for _, item := range items {
		detail.Counts[item.Status]++
	}
	detail.Failures = append(failures(items, models.ItemInvalid), failures(items, models.ItemFailed)...)
	sort.Slice(detail.Failures, func(i, j int) bool {
		return detail.Failures[i].ItemNumber < detail.Failures[j].ItemNumber
	})
	return detail, nil
}

// ListBatches lists batches, newest first. An empty status matches all.
func (p *Processor) ListBatches(ctx context.Context, status models.BatchStatus) ([]models.BulkPaymentBatch, error) {
	batches, err := p.store.ListBatches(ctx, status)
	if err != nil {
		return nil, apperr.Internalf(err, "list batches")
	}
	return batches, nil
}

func (p *Processor) Items(ctx context.Context, batchID string) ([]models.BulkPaymentItem, error) {
	if _, err := p.loadBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return p.listItems(ctx, batchID)
}

func (p *Processor) loadBatch(ctx context.Context, id string) (models.BulkPaymentBatch, error) {
	batch, err := p.store.GetBatch(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.BulkPaymentBatch{}, apperr.New(apperr.BatchNotFound, "Batch not found")
	}
	if err != nil {
		return models.BulkPaymentBatch{}, apperr.Internalf(err, "load batch")
	}
	return batch, nil
}

func (p *Processor) listItems(ctx context.Context, batchID string) ([]models.BulkPaymentItem, error) {
	items, err := p.store.ListItems(ctx, batchID)
	if err != nil {
		return nil, apperr.Internalf(err, "list items")
	}
	return items, nil
}

func lockedOut(err error) error {
	if errors.Is(err, lock.ErrLockNotAcquired) {
		return apperr.Wrap(err, apperr.ConcurrentModification, "Batch is being processed by another request")
	}
	return err
}

func itemReference(batch models.BulkPaymentBatch, item models.BulkPaymentItem) string {
	if item.Reference != "" {
		return item.Reference
	}
	return fmt.Sprintf("%s/%d", batch.BatchNumber, item.ItemNumber)
}

func batchKey(id string) string {
	return "batch:" + id
}
