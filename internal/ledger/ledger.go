package ledger

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
	"github.com/sheikh-saqib/public-sector-payments/internal/lock"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/retry"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

const (
	ActionCommitmentCreated  = "BUDGET_COMMITMENT_CREATED"
	ActionCommitmentReleased = "BUDGET_COMMITMENT_RELEASED"
)

// Ledger owns allocation balances. Commit and Release on one allocation are
// serialized by a per-allocation lock and checked again by the store's
// version compare-and-swap, so the allocation invariant holds even when
// several processes share the store.
type Ledger struct {
	store  interfaces.BudgetStore
	locker interfaces.Locker
	sink   interfaces.AuditSink
	audit  *audit.Recorder
	logger *zap.Logger
	retry  retry.Policy
	now    func() time.Time
}

type Option func(*Ledger)

func WithLocker(locker interfaces.Locker) Option {
	return func(l *Ledger) { l.locker = locker }
}

func WithAuditSink(sink interfaces.AuditSink) Option {
	return func(l *Ledger) { l.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithRetryPolicy(policy retry.Policy) Option {
	return func(l *Ledger) { l.retry = policy }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger wires a ledger over store. Without options it uses in-process
// locks, discards audit entries and logs nothing.
func NewLedger(store interfaces.BudgetStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locker: lock.NewKeyedMutex(),
		logger: zap.NewNop(),
		retry:  retry.DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.audit = audit.NewRecorder(l.sink, l.logger)
	return l
}

// CommitInput describes a reservation against an allocation.
type CommitInput struct {
	AllocationID string
	Amount       decimal.Decimal
	Purpose      string
	Reference    string
	ActorID      string
}

// Commit reserves in.Amount of the allocation's available budget.
func (l *Ledger) Commit(ctx context.Context, in CommitInput) (models.BudgetCommitment, error) {
	if !in.Amount.IsPositive() {
		return models.BudgetCommitment{}, apperr.New(apperr.InvalidInput, "Commitment amount must be greater than zero")
	}
	if !models.InMinorUnits(in.Amount) {
		return models.BudgetCommitment{}, apperr.New(apperr.InvalidInput, "Commitment amount must have at most 2 decimal places")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return models.BudgetCommitment{}, apperr.New(apperr.InvalidInput, "Actor is required")
	}

	var (
		commitment    models.BudgetCommitment
		before, after models.BudgetAllocation
	)
	err := l.locker.WithLock(ctx, allocationKey(in.AllocationID), func(ctx context.Context) error {
		return retry.Do(ctx, l.retry, isConflict, func(attempt int) error {
			allocation, err := l.loadAllocation(ctx, in.AllocationID)
			if err != nil {
				return err
			}
			if allocation.Status != models.AllocationActive {
				return apperr.New(apperr.AllocationInactive, "Budget allocation is not active")
			}
			if allocation.AvailableAmount.LessThan(in.Amount) {
				return insufficientBudget(allocation, in.Amount)
			}

			now := l.now().UTC()
			next := allocation
			next.CommittedAmount = allocation.CommittedAmount.Add(in.Amount)
			next.AvailableAmount = allocation.AvailableAmount.Sub(in.Amount)
			next.Version = allocation.Version + 1
			next.UpdatedAt = now

			id := uuid.NewString()
			c := models.BudgetCommitment{
				ID:               id,
				CommitmentNumber: models.DocumentNumber("CMT", id, now),
				AllocationID:     allocation.ID,
				Amount:           in.Amount,
				Purpose:          in.Purpose,
				Reference:        in.Reference,
				Status:           models.CommitmentActive,
				CreatedBy:        in.ActorID,
				CreatedAt:        now,
			}

			if err := l.store.CreateCommitment(ctx, c, next); err != nil {
				if isConflict(err) {
					l.logger.Warn("allocation changed during commit, retrying",
						zap.String("allocation_id", allocation.ID), zap.Int("attempt", attempt))
					return err
				}
				return apperr.Internalf(err, "create commitment")
			}

			commitment, before, after = c, allocation, next
			return nil
		})
	})
	if err != nil {
		return models.BudgetCommitment{}, conflictOrSelf(err)
	}

	l.logger.Info("budget committed",
		zap.String("allocation_id", after.ID),
		zap.String("commitment_id", commitment.ID),
		zap.String("amount", commitment.Amount.StringFixed(2)),
		zap.String("actor_id", in.ActorID))
	l.audit.Record(ctx, models.AuditEntry{
		EntityType: models.EntityBudgetCommitment,
		EntityID:   commitment.ID,
		Action:     ActionCommitmentCreated,
		ActorID:    in.ActorID,
		Before:     balanceSnapshot(before),
		After:      balanceSnapshot(after) + " " + commitment.CommitmentNumber,
		Timestamp:  commitment.CreatedAt,
	})

	return commitment, nil
}

// Release returns an Active commitment's amount to its allocation.
func (l *Ledger) Release(ctx context.Context, commitmentID, actorID string) (models.BudgetCommitment, error) {
	if strings.TrimSpace(actorID) == "" {
		return models.BudgetCommitment{}, apperr.New(apperr.InvalidInput, "Actor is required")
	}

	commitment, err := l.loadCommitment(ctx, commitmentID)
	if err != nil {
		return models.BudgetCommitment{}, err
	}

	var (
		released      models.BudgetCommitment
		before, after models.BudgetAllocation
	)
	err = l.locker.WithLock(ctx, allocationKey(commitment.AllocationID), func(ctx context.Context) error {
		return retry.Do(ctx, l.retry, isConflict, func(attempt int) error {
			current, err := l.loadCommitment(ctx, commitmentID)
			if err != nil {
				return err
			}
			if current.Status != models.CommitmentActive {
				return apperr.New(apperr.CommitmentNotActive,
					fmt.Sprintf("Commitment is not active. Current status: %s", current.Status))
			}

			allocation, err := l.loadAllocation(ctx, current.AllocationID)
			if err != nil {
				return err
			}

			now := l.now().UTC()
			next := allocation
			next.CommittedAmount = allocation.CommittedAmount.Sub(current.Amount)
			next.AvailableAmount = allocation.AvailableAmount.Add(current.Amount)
			next.Version = allocation.Version + 1
			next.UpdatedAt = now

			c := current
			c.Status = models.CommitmentReleased
			c.ReleasedBy = actorID
			c.ReleasedAt = &now

			if err := l.store.ReleaseCommitment(ctx, c, next); err != nil {
				if isConflict(err) {
					l.logger.Warn("allocation changed during release, retrying",
						zap.String("allocation_id", allocation.ID), zap.Int("attempt", attempt))
					return err
				}
				return apperr.Internalf(err, "release commitment")
			}

			released, before, after = c, allocation, next
			return nil
		})
	})
	if err != nil {
		return models.BudgetCommitment{}, conflictOrSelf(err)
	}

	l.logger.Info("budget commitment released",
		zap.String("allocation_id", after.ID),
		zap.String("commitment_id", released.ID),
		zap.String("actor_id", actorID))
	l.audit.Record(ctx, models.AuditEntry{
		EntityType: models.EntityBudgetCommitment,
		EntityID:   released.ID,
		Action:     ActionCommitmentReleased,
		ActorID:    actorID,
		Before:     balanceSnapshot(before),
		After:      balanceSnapshot(after),
		Timestamp:  *released.ReleasedAt,
	})

	return released, nil
}

func (l *Ledger) loadAllocation(ctx context.Context, id string) (models.BudgetAllocation, error) {
	allocation, err := l.store.GetAllocation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.BudgetAllocation{}, apperr.New(apperr.AllocationNotFound, "Budget allocation not found")
	}
	if err != nil {
		return models.BudgetAllocation{}, apperr.Internalf(err, "load allocation")
	}
	return allocation, nil
}

func (l *Ledger) loadCommitment(ctx context.Context, id string) (models.BudgetCommitment, error) {
	commitment, err := l.store.GetCommitment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.BudgetCommitment{}, apperr.New(apperr.CommitmentNotFound, "Commitment not found")
	}
	if err != nil {
		return models.BudgetCommitment{}, apperr.Internalf(err, "load commitment")
	}
	return commitment, nil
}

func insufficientBudget(allocation models.BudgetAllocation, requested decimal.Decimal) error {
	msg := fmt.Sprintf("Insufficient budget. Available: %s, Requested: %s",
		models.FormatMoney(allocation.Currency, allocation.AvailableAmount),
		models.FormatMoney(allocation.Currency, requested))
	return apperr.WithDetails(apperr.InsufficientBudget, msg, map[string]any{
		"allocation_id": allocation.ID,
		"available":     allocation.AvailableAmount.StringFixed(2),
		"requested":     requested.StringFixed(2),
		"currency":      allocation.Currency,
	})
}

func isConflict(err error) bool {
	return errors.Is(err, storage.ErrConflict)
}

// conflictOrSelf turns an exhausted retry into a classified conflict.
func conflictOrSelf(err error) error {
	if isConflict(err) || errors.Is(err, lock.ErrLockNotAcquired) {
		return apperr.Wrap(err, apperr.ConcurrentModification,
			"Budget allocation was modified concurrently, please retry")
	}
	return err
}

func balanceSnapshot(a models.BudgetAllocation) string {
	return fmt.Sprintf("committed=%s available=%s",
		a.CommittedAmount.StringFixed(2), a.AvailableAmount.StringFixed(2))
}

func allocationKey(id string) string {
	return "allocation:" + id
}
