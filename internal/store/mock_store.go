package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/recall"
)

// MockStore is an in-memory implementation of Store for testing and ephemeral sessions.
type MockStore struct {
	mu        sync.RWMutex
	memories  map[string]models.MemoryItem
	optimized int
	rebuilt   int
}

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		memories: make(map[string]models.MemoryItem),
	}
}

// StoreCompressed inserts or replaces item. Stored data is deep-copied.
func (m *MockStore) StoreCompressed(_ context.Context, item models.MemoryItem) error {
	if item.ID == "" {
		return ErrInvalidItem
	}
	item = item.Clone()
	item.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories[item.ID] = item
	return nil
}

// Search filters every item by the query.
func (m *MockStore) Search(_ context.Context, query models.MemoryQuery) ([]models.MemoryItem, error) {
	return filterQuery(m.snapshot(), query), nil
}

// Retrieve returns a copy of the item with id.
func (m *MockStore) Retrieve(_ context.Context, id string) (*models.MemoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.memories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := it.Clone()
	return &out, nil
}

// SearchByContext returns items satisfying every criterion.
func (m *MockStore) SearchByContext(_ context.Context, criteria map[string]models.ContextValue, max int) ([]models.MemoryItem, error) {
	return filterContext(m.snapshot(), criteria, max), nil
}

// SearchByTemporalRange returns items inside [start, end], newest first.
func (m *MockStore) SearchByTemporalRange(_ context.Context, start, end time.Time, max int) ([]models.MemoryItem, error) {
	var out []models.MemoryItem
	for _, it := range m.snapshot() {
		if it.Timestamp.Before(start) || it.Timestamp.After(end) {
			continue
		}
		out = append(out, it)
	}
	slices.SortStableFunc(out, recall.ByRecency)
	return capResults(out, max), nil
}

// GetByAssociation returns items that list id as an association, plus id itself.
func (m *MockStore) GetByAssociation(_ context.Context, id string) ([]models.MemoryItem, error) {
	var out []models.MemoryItem
	for _, it := range m.snapshot() {
		if it.ID == id || it.HasAssociation(id) {
			out = append(out, it)
		}
	}
	recall.SortByImportance(out)
	return out, nil
}

// UpdateAssociations unions ids into the association set of id.
func (m *MockStore) UpdateAssociations(_ context.Context, id string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.memories[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	it = it.Clone()
	for _, a := range ids {
		it.AddAssociation(a)
	}
	m.memories[id] = it
	return nil
}

// Remove deletes a memory by ID.
func (m *MockStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.memories[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.memories, id)
	return nil
}

// All returns a copy of every stored item.
func (m *MockStore) All(_ context.Context) ([]models.MemoryItem, error) {
	return m.snapshot(), nil
}

// GetStorageStatistics computes statistics from the in-memory map.
func (m *MockStore) GetStorageStatistics(_ context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var size int64
	for _, it := range m.memories {
		size += int64(len(it.Content))
	}
	return map[string]any{
		StatTotalSize:        size,
		StatFileCount:        0,
		StatCompressionRatio: 1.0,
		StatMemoryCount:      len(m.memories),
	}, nil
}

// OptimizeStorage counts invocations; there is nothing to compact in memory.
func (m *MockStore) OptimizeStorage(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optimized++
	return nil
}

// RebuildIndex counts invocations.
func (m *MockStore) RebuildIndex(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilt++
	return nil
}

// Maintenance reports how many times OptimizeStorage and RebuildIndex ran.
func (m *MockStore) Maintenance() (optimized, rebuilt int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.optimized, m.rebuilt
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) snapshot() []models.MemoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MemoryItem, 0, len(m.memories))
	for _, it := range m.memories {
		out = append(out, it.Clone())
	}
	// Map order is random; keep results stable for equal scores.
	slices.SortFunc(out, func(a, b models.MemoryItem) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
