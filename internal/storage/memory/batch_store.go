package memory

import (
	"context"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
	"github.com/sheikh-saqib/public-sector-payments/internal/models"
	"github.com/sheikh-saqib/public-sector-payments/internal/storage"
)

// MemoryBatchStore is an in-memory implementation of interfaces.BatchStore.
// Items are kept per batch in ItemNumber order.
type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]models.BulkPaymentBatch
	items   map[string][]models.BulkPaymentItem
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		batches: make(map[string]models.BulkPaymentBatch),
		items:   make(map[string][]models.BulkPaymentItem),
	}
}

func (m *MemoryBatchStore) CreateBatch(ctx context.Context, batch models.BulkPaymentBatch, items []models.BulkPaymentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[batch.ID]; exists {
		return storage.ErrConflict
	}

	copied := make([]models.BulkPaymentItem, len(items))
	copy(copied, items)
	sort.Slice(copied, func(i, j int) bool { return copied[i].ItemNumber < copied[j].ItemNumber })

	m.batches[batch.ID] = batch
	m.items[batch.ID] = copied
	return nil
}

func (m *MemoryBatchStore) GetBatch(ctx context.Context, id string) (models.BulkPaymentBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batch, ok := m.batches[id]
	if !ok {
		return models.BulkPaymentBatch{}, storage.ErrNotFound
	}
	return batch, nil
}

func (m *MemoryBatchStore) ListBatches(ctx context.Context, status models.BatchStatus) ([]models.BulkPaymentBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.BulkPaymentBatch, 0)
	for _, b := range m.batches {
		if status == "" || b.Status == status {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	return result, nil
}

func (m *MemoryBatchStore) UpdateBatch(ctx context.Context, batch models.BulkPaymentBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[batch.ID]; !ok {
		return storage.ErrNotFound
	}
	m.batches[batch.ID] = batch
	return nil
}

func (m *MemoryBatchStore) ListItems(ctx context.Context, batchID string) ([]models.BulkPaymentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]models.BulkPaymentItem, len(m.items[batchID]))
	copy(copied, m.items[batchID])
	return copied, nil
}

func (m *MemoryBatchStore) UpdateItem(ctx context.Context, item models.BulkPaymentItem, from models.ItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items[item.BatchID]
	for i := range items {
		if items[i].ID != item.ID {
			continue
		}
		if items[i].Status != from {
			return storage.ErrConflict
		}
		items[i] = item
		return nil
	}
	return storage.ErrNotFound
}

var _ interfaces.BatchStore = (*MemoryBatchStore)(nil)
