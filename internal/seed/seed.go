// Package seed loads budget allocations and account balances into the
// in-memory stores from a YAML file, so a service without a database starts
// with data to work against.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
)

type File struct {
	Accounts    []Account    `yaml:"accounts"`
	Allocations []Allocation `yaml:"allocations"`
}

type Account struct {
	ID      string          `yaml:"id"`
	Balance decimal.Decimal `yaml:"balance"`
}

type Allocation struct {
	ID         string          `yaml:"id"`
	Department string          `yaml:"department"`
	Category   string          `yaml:"category"`
	FiscalYear int             `yaml:"fiscal_year"`
	Currency   string          `yaml:"currency"`
	Allocated  decimal.Decimal `yaml:"allocated"`
}

// Balances is the write side of the in-memory balance oracle.
type Balances interface {
	SetBalance(accountID string, balance decimal.Decimal)
}

func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a seed file and checks every entry, reporting all problems
// at once.
func Parse(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := file.check(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (f File) check() error {
	var errs []error
	for i, a := range f.Accounts {
		if strings.TrimSpace(a.ID) == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: id is required", i))
		}
		if a.Balance.IsNegative() || !models.InMinorUnits(a.Balance) {
			errs = append(errs, fmt.Errorf("accounts[%d]: invalid balance %s", i, a.Balance))
		}
	}
	seen := make(map[string]bool)
	for i, a := range f.Allocations {
		switch {
		case strings.TrimSpace(a.ID) == "":
			errs = append(errs, fmt.Errorf("allocations[%d]: id is required", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Errorf("allocations[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
		if a.FiscalYear <= 0 {
			errs = append(errs, fmt.Errorf("allocations[%d]: fiscal_year is required", i))
		}
		if !a.Allocated.IsPositive() || !models.InMinorUnits(a.Allocated) {
			errs = append(errs, fmt.Errorf("allocations[%d]: invalid allocated amount %s", i, a.Allocated))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid seed file: %w", err)
	}
	return nil
}

// Apply stores every allocation as Active with its full amount available and
// sets every account balance. currency fills allocations that name none.
func (f File) Apply(ctx context.Context, budgets interfaces.BudgetStore, balances Balances, currency string, now time.Time) error {
	for _, a := range f.Allocations {
		cur := a.Currency
		if cur == "" {
			cur = currency
		}
		allocation := models.BudgetAllocation{
			ID:              a.ID,
			Department:      a.Department,
			Category:        a.Category,
			FiscalYear:      a.FiscalYear,
			Currency:        cur,
			AllocatedAmount: a.Allocated,
			SpentAmount:     decimal.Zero,
			CommittedAmount: decimal.Zero,
			AvailableAmount: a.Allocated,
			Status:          models.AllocationActive,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := budgets.SaveAllocation(ctx, allocation); err != nil {
			return fmt.Errorf("seed allocation %s: %w", a.ID, err)
		}
	}
	for _, a := range f.Accounts {
		balances.SetBalance(a.ID, a.Balance)
	}
	return nil
}
