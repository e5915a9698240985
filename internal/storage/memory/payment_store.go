package memory

import (
	"context"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

// MemoryPaymentStore is an in-memory implementation of interfaces.PaymentStore.
type MemoryPaymentStore struct {
	mu        sync.RWMutex
	payments  map[string]models.PaymentRequest
	approvals map[string][]models.PaymentApproval
}

func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{
		payments:  make(map[string]models.PaymentRequest),
		approvals: make(map[string][]models.PaymentApproval),
	}
}

func (m *MemoryPaymentStore) CreatePayment(ctx context.Context, payment models.PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[payment.ID]; exists {
		return storage.ErrConflict
	}
	m.payments[payment.ID] = payment
	return nil
}

func (m *MemoryPaymentStore) GetPayment(ctx context.Context, id string) (models.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.payments[id]
	if !ok {
		return models.PaymentRequest{}, storage.ErrNotFound
	}
	return payment, nil
}

func (m *MemoryPaymentStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.PaymentRequest, 0)
	for _, p := range m.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Level != 0 && p.CurrentApprovalLevel != filter.Level {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryPaymentStore) RecordDecision(ctx context.Context, payment models.PaymentRequest, approval models.PaymentApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.payments[payment.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != payment.Version-1 {
		return storage.ErrConflict
	}

	m.payments[payment.ID] = payment
	m.approvals[payment.ID] = append(m.approvals[payment.ID], approval)
	return nil
}

func (m *MemoryPaymentStore) ListApprovals(ctx context.Context, paymentID string) ([]models.PaymentApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]models.PaymentApproval, len(m.approvals[paymentID]))
	copy(copied, m.approvals[paymentID])
	return copied, nil
}

var _ interfaces.PaymentStore = (*MemoryPaymentStore)(nil)
