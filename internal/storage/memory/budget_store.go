package memory

import (
	"context"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

// MemoryBudgetStore is an in-memory implementation of interfaces.BudgetStore.
type MemoryBudgetStore struct {
	mu          sync.RWMutex
	allocations map[string]models.BudgetAllocation
	commitments map[string]models.BudgetCommitment
}

func NewMemoryBudgetStore() *MemoryBudgetStore {
	return &MemoryBudgetStore{
		allocations: make(map[string]models.BudgetAllocation),
		commitments: make(map[string]models.BudgetCommitment),
	}
}

// SaveAllocation creates or overwrites an allocation. It is the
// administrative entry point and does not check versions.
func (m *MemoryBudgetStore) SaveAllocation(ctx context.Context, allocation models.BudgetAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allocations[allocation.ID] = allocation
	return nil
}

func (m *MemoryBudgetStore) GetAllocation(ctx context.Context, id string) (models.BudgetAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allocation, ok := m.allocations[id]
	if !ok {
		return models.BudgetAllocation{}, storage.ErrNotFound
	}
	return allocation, nil
}

func (m *MemoryBudgetStore) ListAllocations(ctx context.Context, fiscalYear int) ([]models.BudgetAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.BudgetAllocation, 0)
	for _, a := range m.allocations {
		if fiscalYear == 0 || a.FiscalYear == fiscalYear {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Department != result[j].Department {
			return result[i].Department < result[j].Department
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

func (m *MemoryBudgetStore) GetCommitment(ctx context.Context, id string) (models.BudgetCommitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	commitment, ok := m.commitments[id]
	if !ok {
		return models.BudgetCommitment{}, storage.ErrNotFound
	}
	return commitment, nil
}

func (m *MemoryBudgetStore) ListCommitments(ctx context.Context, filter models.CommitmentFilter) ([]models.BudgetCommitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.BudgetCommitment, 0)
	for _, c := range m.commitments {
		if filter.AllocationID != "" && c.AllocationID != filter.AllocationID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryBudgetStore) CreateCommitment(ctx context.Context, commitment models.BudgetCommitment, allocation models.BudgetAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersion(allocation); err != nil {
		return err
	}
	if _, exists := m.commitments[commitment.ID]; exists {
		return storage.ErrConflict
	}

	m.commitments[commitment.ID] = commitment
	m.allocations[allocation.ID] = allocation
	return nil
}

func (m *MemoryBudgetStore) ReleaseCommitment(ctx context.Context, commitment models.BudgetCommitment, allocation models.BudgetAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersion(allocation); err != nil {
		return err
	}
	stored, ok := m.commitments[commitment.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Status != models.CommitmentActive {
		return storage.ErrConflict
	}

	m.commitments[commitment.ID] = commitment
	m.allocations[allocation.ID] = allocation
	return nil
}

// checkVersion must be called with mu held.
func (m *MemoryBudgetStore) checkVersion(allocation models.BudgetAllocation) error {
	stored, ok := m.allocations[allocation.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != allocation.Version-1 {
		return storage.ErrConflict
	}
	return nil
}

// Compile-time check: ensure MemoryBudgetStore implements BudgetStore interface
var _ interfaces.BudgetStore = (*MemoryBudgetStore)(nil)
