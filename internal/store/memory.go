package store

import (
	"context"
	"sort"
	"sync"

	"github.com/coworklabs/cowork/pkg/models"
)

// Memory is an in-process store for tests and --ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.SessionRecord
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: map[string]models.SessionRecord{}}
}

func (m *Memory) Save(ctx context.Context, rec *models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SessionID] = *rec
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (*models.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) List(ctx context.Context) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SessionSummary, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, models.SessionSummary{
			SessionID:    rec.SessionID,
			Title:        rec.Title,
			Status:       rec.Status,
			Provider:     rec.Provider,
			Model:        rec.Model,
			MessageCount: rec.MessageCount,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }
