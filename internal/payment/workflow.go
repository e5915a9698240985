// Package payment runs the maker-checker approval workflow for single
// payment requests.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	"github.com/sheikh-saqib/public-sector-payments/internal/audit"
	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/ledger"
	"github.com/sheikh-saqib/public-sector-payments/internal/lock"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

const (
	ActionInitiated = "PAYMENT_INITIATED"
	ActionApproved  = "PAYMENT_APPROVED"
	ActionRejected  = "PAYMENT_REJECTED"

	DefaultPaymentType = "SINGLE"
)

// Budget is the part of the budget ledger the workflow needs.
type Budget interface {
	Commit(ctx context.Context, in ledger.CommitInput) (models.BudgetCommitment, error)
	Release(ctx context.Context, commitmentID, actorID string) (models.BudgetCommitment, error)
}

type Workflow struct {
	store    interfaces.PaymentStore
	budget   Budget
	oracle   interfaces.AccountBalanceOracle
	locker   interfaces.Locker
	sink     interfaces.AuditSink
	audit    *audit.Recorder
	logger   *zap.Logger
	tiers    TierPolicy
	distinct bool
	currency string
	now      func() time.Time
}

type Option func(*Workflow)

func WithLocker(locker interfaces.Locker) Option {
	return func(w *Workflow) { w.locker = locker }
}

func WithAuditSink(sink interfaces.AuditSink) Option {
	return func(w *Workflow) { w.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

func WithTierPolicy(tiers TierPolicy) Option {
	return func(w *Workflow) { w.tiers = tiers }
}

// WithDistinctApprovers toggles segregation of duties: when on, the
// initiator may not decide on their own payment and nobody may decide at two
// levels of the same payment.
func WithDistinctApprovers(on bool) Option {
	return func(w *Workflow) { w.distinct = on }
}

func WithDefaultCurrency(currency string) Option {
	return func(w *Workflow) { w.currency = currency }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow builds the workflow. budget may be nil when no payment ever
// names an allocation.
func NewWorkflow(store interfaces.PaymentStore, budget Budget, oracle interfaces.AccountBalanceOracle, opts ...Option) *Workflow {
	w := &Workflow{
		store:    store,
		budget:   budget,
		oracle:   oracle,
		locker:   lock.NewKeyedMutex(),
		logger:   zap.NewNop(),
		tiers:    DefaultTierPolicy(),
		distinct: true,
		currency: "KES",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.audit = audit.NewRecorder(w.sink, w.logger)
	return w
}

type InitiateInput struct {
	InitiatorID        string
	AccountID          string
	BudgetAllocationID string
	Amount             decimal.Decimal
	Currency           string
	Beneficiary        models.Beneficiary
	Purpose            string
	Reference          string
	PaymentType        string
}

func (in InitiateInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.InitiatorID) == "" {
		problems = append(problems, "Initiator is required")
	}
	if strings.TrimSpace(in.AccountID) == "" {
		problems = append(problems, "Source account is required")
	}
	if !in.Amount.IsPositive() {
		problems = append(problems, "Amount must be greater than zero")
	}
	if !models.InMinorUnits(in.Amount) {
		problems = append(problems, "Amount must have at most 2 decimal places")
	}
	if strings.TrimSpace(in.Beneficiary.Name) == "" {
		problems = append(problems, "Beneficiary name is required")
	}
	if strings.TrimSpace(in.Beneficiary.Account) == "" {
		problems = append(problems, "Beneficiary account is required")
	}
	if len(problems) > 0 {
		return apperr.New(apperr.InvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Initiate creates a Pending payment at level 1. When an allocation is named
// the budget is committed first; if that fails no payment is created.
func (w *Workflow) Initiate(ctx context.Context, in InitiateInput) (models.PaymentRequest, error) {
	if err := in.validate(); err != nil {
		return models.PaymentRequest{}, err
	}
	currency := in.Currency
	if currency == "" {
		currency = w.currency
	}

	balance, err := w.oracle.Balance(ctx, in.AccountID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.PaymentRequest{}, apperr.Internalf(err, "read account balance")
	}
	if balance.LessThan(in.Amount) {
		msg := fmt.Sprintf("Insufficient account balance. Available: %s, Requested: %s",
			models.FormatMoney(currency, balance), models.FormatMoney(currency, in.Amount))
		return models.PaymentRequest{}, apperr.WithDetails(apperr.InsufficientAccountBalance, msg, map[string]any{
			"account_id": in.AccountID,
			"available":  balance.StringFixed(2),
			"requested":  in.Amount.StringFixed(2),
		})
	}

	now := w.now().UTC()
	id := uuid.NewString()
	p := models.PaymentRequest{
		ID:                     id,
		RequestNumber:          models.DocumentNumber("PAY", id, now),
		InitiatorID:            in.InitiatorID,
		AccountID:              in.AccountID,
		BudgetAllocationID:     in.BudgetAllocationID,
		PaymentType:            in.PaymentType,
		Amount:                 in.Amount,
		Currency:               currency,
		Beneficiary:            in.Beneficiary,
		Purpose:                in.Purpose,
		Reference:              in.Reference,
		Status:                 models.PaymentPending,
		CurrentApprovalLevel:   1,
		RequiredApprovalLevels: w.tiers.RequiredLevels(in.Amount),
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if p.PaymentType == "" {
		p.PaymentType = DefaultPaymentType
	}

	if in.BudgetAllocationID != "" {
		if w.budget == nil {
			return models.PaymentRequest{}, apperr.New(apperr.InvalidInput, "Budget allocations are not available")
		}
		commitment, err := w.budget.Commit(ctx, ledger.CommitInput{
			AllocationID: in.BudgetAllocationID,
			Amount:       in.Amount,
			Purpose:      in.Purpose,
			Reference:    p.RequestNumber,
			ActorID:      in.InitiatorID,
		})
		if err != nil {
			return models.PaymentRequest{}, err
		}
		p.CommitmentID = commitment.ID
	}

	if err := w.store.CreatePayment(ctx, p); err != nil {
		w.releaseCommitment(ctx, p, in.InitiatorID)
		return models.PaymentRequest{}, apperr.Internalf(err, "create payment")
	}

	w.logger.Info("payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("request_number", p.RequestNumber),
		zap.String("amount", p.Amount.StringFixed(2)),
		zap.Int("required_levels", p.RequiredApprovalLevels),
		zap.String("initiator_id", p.InitiatorID))
	w.audit.Record(ctx, models.AuditEntry{
		EntityType: models.EntityPaymentRequest,
		EntityID:   p.ID,
		Action:     ActionInitiated,
		ActorID:    p.InitiatorID,
		After:      stateOf(p),
		Timestamp:  now,
	})
	return p, nil
}

// Approve records an approval at the level the payment is waiting at when it
// is read. If another approver decides that level first the call fails with
// CONCURRENT_APPROVAL_CONFLICT rather than approving the next level.
func (w *Workflow) Approve(ctx context.Context, paymentID, approverID, comments string) (models.PaymentRequest, error) {
	p, err := w.load(ctx, paymentID)
	if err != nil {
		return models.PaymentRequest{}, err
	}
	return w.decide(ctx, paymentID, p.CurrentApprovalLevel, approverID, models.ActionApproved, comments)
}

// ApproveAtLevel approves only if the payment is still waiting at level.
// Two approvers racing for the same level get one success and one
// CONCURRENT_APPROVAL_CONFLICT.
func (w *Workflow) ApproveAtLevel(ctx context.Context, paymentID string, level int, approverID, comments string) (models.PaymentRequest, error) {
	if level < 1 {
		return models.PaymentRequest{}, apperr.New(apperr.InvalidInput, "Approval level must be at least 1")
	}
	return w.decide(ctx, paymentID, level, approverID, models.ActionApproved, comments)
}

// Reject ends the payment and releases its budget commitment, if any.
func (w *Workflow) Reject(ctx context.Context, paymentID, approverID, reason string) (models.PaymentRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return models.PaymentRequest{}, apperr.New(apperr.InvalidInput, "Rejection reason is required")
	}
	p, err := w.decide(ctx, paymentID, 0, approverID, models.ActionRejected, reason)
	if err != nil {
		return models.PaymentRequest{}, err
	}
	w.releaseCommitment(ctx, p, approverID)
	return p, nil
}

func (w *Workflow) decide(ctx context.Context, paymentID string, level int, actorID string, action models.ApprovalAction, comments string) (models.PaymentRequest, error) {
	if strings.TrimSpace(actorID) == "" {
		return models.PaymentRequest{}, apperr.New(apperr.InvalidInput, "Approver is required")
	}

	var before, after models.PaymentRequest
	err := w.locker.WithLock(ctx, paymentKey(paymentID), func(ctx context.Context) error {
		p, err := w.load(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentPending {
			return apperr.New(apperr.PaymentNotPending,
				fmt.Sprintf("Payment is not pending approval. Current status: %s", p.Status))
		}
		if level != 0 && p.CurrentApprovalLevel != level {
			return apperr.New(apperr.ConcurrentApprovalConflict,
				fmt.Sprintf("Payment is awaiting approval at level %d, not level %d", p.CurrentApprovalLevel, level))
		}
		if err := w.checkDuties(ctx, p, actorID); err != nil {
			return err
		}

		now := w.now().UTC()
		decision := models.PaymentApproval{
			ID:               uuid.NewString(),
			PaymentRequestID: p.ID,
			ApproverID:       actorID,
			ApprovalLevel:    p.CurrentApprovalLevel,
			Action:           action,
			Comments:         comments,
			Timestamp:        now,
		}

		next := p
		next.Version = p.Version + 1
		next.UpdatedAt = now
		switch {
		case action == models.ActionRejected:
			next.Status = models.PaymentRejected
			next.RejectionReason = comments
		case p.CurrentApprovalLevel >= p.RequiredApprovalLevels:
			next.Status = models.PaymentApproved
			next.ExecutedAt = &now
		default:
			next.CurrentApprovalLevel = p.CurrentApprovalLevel + 1
		}

		if err := w.store.RecordDecision(ctx, next, decision); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return apperr.Wrap(err, apperr.ConcurrentApprovalConflict,
					"Payment was decided concurrently at this level")
			}
			return apperr.Internalf(err, "record approval decision")
		}
		before, after = p, next
		return nil
	})
	if errors.Is(err, lock.ErrLockNotAcquired) {
		return models.PaymentRequest{}, apperr.Wrap(err, apperr.ConcurrentApprovalConflict,
			"Payment is being decided by another approver")
	}
	if err != nil {
		return models.PaymentRequest{}, err
	}

	auditAction := ActionApproved
	if action == models.ActionRejected {
		auditAction = ActionRejected
	}
	w.logger.Info("payment decision recorded",
		zap.String("payment_id", after.ID),
		zap.String("action", string(action)),
		zap.Int("level", before.CurrentApprovalLevel),
		zap.String("status", string(after.Status)),
		zap.String("approver_id", actorID))
	w.audit.Record(ctx, models.AuditEntry{
		EntityType: models.EntityPaymentRequest,
		EntityID:   after.ID,
		Action:     auditAction,
		ActorID:    actorID,
		Before:     stateOf(before),
		After:      stateOf(after),
		Timestamp:  after.UpdatedAt,
	})
	return after, nil
}

// checkDuties enforces segregation of duties when enabled.
func (w *Workflow) checkDuties(ctx context.Context, p models.PaymentRequest, actorID string) error {
	if !w.distinct {
		return nil
	}
	if actorID == p.InitiatorID {
		return apperr.New(apperr.SelfApprovalForbidden, "The initiator of a payment cannot decide on it")
	}

	history, err := w.store.ListApprovals(ctx, p.ID)
	if err != nil {
		return apperr.Internalf(err, "list approvals")
	}
	for _, a := range history {
		if a.ApproverID == actorID {
			return apperr.New(apperr.DuplicateApprover,
				fmt.Sprintf("Approver already decided on this payment at level %d", a.ApprovalLevel))
		}
	}
	return nil
}

// releaseCommitment returns a dead payment's budget. A commitment that is
// already released is fine; other failures are logged for reconciliation.
func (w *Workflow) releaseCommitment(ctx context.Context, p models.PaymentRequest, actorID string) {
	if p.CommitmentID == "" || w.budget == nil {
		return
	}
	_, err := w.budget.Release(ctx, p.CommitmentID, actorID)
	if err == nil || apperr.Is(err, apperr.CommitmentNotActive) {
		return
	}
	w.logger.Error("budget commitment not released",
		zap.String("payment_id", p.ID),
		zap.String("commitment_id", p.CommitmentID),
		zap.Error(err))
}

func (w *Workflow) Get(ctx context.Context, paymentID string) (models.PaymentRequest, error) {
	return w.load(ctx, paymentID)
}

func (w *Workflow) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRequest, error) {
	payments, err := w.store.ListPayments(ctx, filter)
	if err != nil {
		return nil, apperr.Internalf(err, "list payments")
	}
	return payments, nil
}

// PendingApprovals lists Pending payments, optionally only those waiting at
// level. A zero level matches every level.
func (w *Workflow) PendingApprovals(ctx context.Context, level int) ([]models.PaymentRequest, error) {
	return w.List(ctx, models.PaymentFilter{Status: models.PaymentPending, Level: level})
}

// ApprovalHistory returns the decisions on a payment in the order they were made.
func (w *Workflow) ApprovalHistory(ctx context.Context, paymentID string) ([]models.PaymentApproval, error) {
	if _, err := w.load(ctx, paymentID); err != nil {
		return nil, err
	}
	history, err := w.store.ListApprovals(ctx, paymentID)
	if err != nil {
		return nil, apperr.Internalf(err, "list approvals")
	}
	return history, nil
}

func (w *Workflow) load(ctx context.Context, id string) (models.PaymentRequest, error) {
	p, err := w.store.GetPayment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PaymentRequest{}, apperr.New(apperr.PaymentNotFound, "Payment request not found")
	}
	if err != nil {
		return models.PaymentRequest{}, apperr.Internalf(err, "load payment")
	}
	return p, nil
}

func stateOf(p models.PaymentRequest) string {
	return fmt.Sprintf("status=%s level=%d/%d", p.Status, p.CurrentApprovalLevel, p.RequiredApprovalLevels)
}

func paymentKey(id string) string {
	return "payment:" + id
}
