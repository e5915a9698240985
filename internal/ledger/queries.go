package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/public-sector-payments/internal/apperr"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

var (
	hundred         = decimal.NewFromInt(100)
	highThreshold   = decimal.NewFromInt(10)
	mediumThreshold = decimal.NewFromInt(20)
)

// AlertLevel grades the share of the allocation that is still available:
// <=0% Critical, <=10% High, <=20% Medium, otherwise Normal. An allocation
// of zero is Normal.
func AlertLevel(a models.BudgetAllocation) models.AlertLevel {
	if a.AllocatedAmount.IsZero() {
		return models.AlertNormal
	}

	pct := a.AvailableAmount.Div(a.AllocatedAmount).Mul(hundred)
	switch {
	case pct.LessThanOrEqual(decimal.Zero):
		return models.AlertCritical
	case pct.LessThanOrEqual(highThreshold):
		return models.AlertHigh
	case pct.LessThanOrEqual(mediumThreshold):
		return models.AlertMedium
	default:
		return models.AlertNormal
	}
}

// percentOf returns part/whole*100 rounded to two places, or zero when whole
// is zero.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}

// AllocationSummary is an allocation with its derived utilization figures.
type AllocationSummary struct {
	models.BudgetAllocation
	UtilizationPercentage decimal.Decimal   `json:"utilization_percentage"`
	CommitmentPercentage  decimal.Decimal   `json:"commitment_percentage"`
	Alert                 models.AlertLevel `json:"alert"`
}

func Summarize(a models.BudgetAllocation) AllocationSummary {
	return AllocationSummary{
		BudgetAllocation:      a,
		UtilizationPercentage: percentOf(a.SpentAmount, a.AllocatedAmount),
		CommitmentPercentage:  percentOf(a.CommittedAmount, a.AllocatedAmount),
		Alert:                 AlertLevel(a),
	}
}

func (l *Ledger) GetAllocation(ctx context.Context, id string) (AllocationSummary, error) {
	allocation, err := l.loadAllocation(ctx, id)
	if err != nil {
		return AllocationSummary{}, err
	}
	return Summarize(allocation), nil
}

// ListAllocations returns the allocations of a fiscal year ordered by
// department and category. A zero fiscal year lists every year.
func (l *Ledger) ListAllocations(ctx context.Context, fiscalYear int) ([]AllocationSummary, error) {
	allocations, err := l.store.ListAllocations(ctx, fiscalYear)
	if err != nil {
		return nil, apperr.Internalf(err, "list allocations")
	}

	out := make([]AllocationSummary, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, Summarize(a))
	}
	return out, nil
}

func (l *Ledger) GetCommitment(ctx context.Context, id string) (models.BudgetCommitment, error) {
	return l.loadCommitment(ctx, id)
}

func (l *Ledger) ListCommitments(ctx context.Context, filter models.CommitmentFilter) ([]models.BudgetCommitment, error) {
	commitments, err := l.store.ListCommitments(ctx, filter)
	if err != nil {
		return nil, apperr.Internalf(err, "list commitments")
	}
	return commitments, nil
}

// Availability answers whether an amount could be committed right now.
type Availability struct {
	IsAvailable     bool                    `json:"is_available"`
	RequestedAmount decimal.Decimal         `json:"requested_amount"`
	AvailableAmount decimal.Decimal         `json:"available_amount"`
	AllocatedAmount decimal.Decimal         `json:"allocated_amount"`
	SpentAmount     decimal.Decimal         `json:"spent_amount"`
	CommittedAmount decimal.Decimal         `json:"committed_amount"`
	Status          models.AllocationStatus `json:"status"`
	Message         string                  `json:"message"`
}

// CheckAvailability is advisory: it reserves nothing.
func (l *Ledger) CheckAvailability(ctx context.Context, allocationID string, amount decimal.Decimal) (Availability, error) {
	allocation, err := l.loadAllocation(ctx, allocationID)
	if err != nil {
		return Availability{}, err
	}

	ok := allocation.Status == models.AllocationActive && allocation.AvailableAmount.GreaterThanOrEqual(amount)
	msg := "Budget is available"
	if !ok {
		msg = fmt.Sprintf("Insufficient budget. Available: %s, Requested: %s",
			models.FormatMoney(allocation.Currency, allocation.AvailableAmount),
			models.FormatMoney(allocation.Currency, amount))
	}

	return Availability{
		IsAvailable:     ok,
		RequestedAmount: amount,
		AvailableAmount: allocation.AvailableAmount,
		AllocatedAmount: allocation.AllocatedAmount,
		SpentAmount:     allocation.SpentAmount,
		CommittedAmount: allocation.CommittedAmount,
		Status:          allocation.Status,
		Message:         msg,
	}, nil
}

// UtilizationRow aggregates one department/category pair.
type UtilizationRow struct {
	Department       string          `json:"department"`
	Category         string          `json:"category"`
	TotalAllocated   decimal.Decimal `json:"total_allocated"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TotalCommitted   decimal.Decimal `json:"total_committed"`
	TotalAvailable   decimal.Decimal `json:"total_available"`
	UtilizationRate  decimal.Decimal `json:"utilization_rate"`
	CommitmentRate   decimal.Decimal `json:"commitment_rate"`
	AvailabilityRate decimal.Decimal `json:"availability_rate"`
}

func (l *Ledger) Utilization(ctx context.Context, fiscalYear int) ([]UtilizationRow, error) {
	allocations, err := l.store.ListAllocations(ctx, fiscalYear)
	if err != nil {
		return nil, apperr.Internalf(err, "list allocations")
	}

	type key struct{ department, category string }
	rows := make(map[key]*UtilizationRow)
	for _, a := range allocations {
		k := key{a.Department, a.Category}
		row, ok := rows[k]
		if !ok {
			row = &UtilizationRow{Department: a.Department, Category: a.Category}
			rows[k] = row
		}
		row.TotalAllocated = row.TotalAllocated.Add(a.AllocatedAmount)
		row.TotalSpent = row.TotalSpent.Add(a.SpentAmount)
		row.TotalCommitted = row.TotalCommitted.Add(a.CommittedAmount)
		row.TotalAvailable = row.TotalAvailable.Add(a.AvailableAmount)
	}

	out := make([]UtilizationRow, 0, len(rows))
	for _, row := range rows {
		row.UtilizationRate = percentOf(row.TotalSpent, row.TotalAllocated)
		row.CommitmentRate = percentOf(row.TotalCommitted, row.TotalAllocated)
		row.AvailabilityRate = percentOf(row.TotalAvailable, row.TotalAllocated)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Department != out[j].Department {
			return out[i].Department < out[j].Department
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// Alert is an Active allocation running low on available budget.
type Alert struct {
	AllocationID          string            `json:"allocation_id"`
	Department            string            `json:"department"`
	Category              string            `json:"category"`
	AllocatedAmount       decimal.Decimal   `json:"allocated_amount"`
	AvailableAmount       decimal.Decimal   `json:"available_amount"`
	UtilizationPercentage decimal.Decimal   `json:"utilization_percentage"`
	Level                 models.AlertLevel `json:"alert_level"`
}

// Alerts lists Active allocations whose alert level is not Normal, the most
// used first.
func (l *Ledger) Alerts(ctx context.Context, fiscalYear int) ([]Alert, error) {
	allocations, err := l.store.ListAllocations(ctx, fiscalYear)
	if err != nil {
		return nil, apperr.Internalf(err, "list allocations")
	}

	out := make([]Alert, 0)
	for _, a := range allocations {
		if a.Status != models.AllocationActive {
			continue
		}
		level := AlertLevel(a)
		if level == models.AlertNormal {
			continue
		}
		out = append(out, Alert{
			AllocationID:          a.ID,
			Department:            a.Department,
			Category:              a.Category,
			AllocatedAmount:       a.AllocatedAmount,
			AvailableAmount:       a.AvailableAmount,
			UtilizationPercentage: percentOf(a.AllocatedAmount.Sub(a.AvailableAmount), a.AllocatedAmount),
			Level:                 level,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UtilizationPercentage.GreaterThan(out[j].UtilizationPercentage)
	})
	return out, nil
}
