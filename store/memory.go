package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"callpipe/models"
)

// Memory keeps routed calls in process memory.
type Memory struct {
	mu    sync.RWMutex
	calls map[string]models.NormalizedCall
}

func NewMemory() *Memory {
	return &Memory{calls: make(map[string]models.NormalizedCall)}
}

func memoryKey(source, callID string) string { return source + "\x00" + callID }

// Save stores call unless one with the same source and id exists.
func (m *Memory) Save(ctx context.Context, call models.NormalizedCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(call.Source, call.CallID)
	if _, exists := m.calls[key]; !exists {
		m.calls[key] = call
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, source, callID string) (models.NormalizedCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	call, ok := m.calls[memoryKey(source, callID)]
	if !ok {
		return models.NormalizedCall{}, fmt.Errorf("%s/%s: %w", source, callID, ErrNotFound)
	}
	return call, nil
}

// List returns calls newest-routed first.
func (m *Memory) List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error) {
	m.mu.RLock()
	out := make([]models.NormalizedCall, 0, len(m.calls))
	for _, call := range m.calls {
		if source == "" || call.Source == source {
			out = append(out, call)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RoutedAt.Equal(out[j].RoutedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].RoutedAt.After(out[j].RoutedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error  { return nil }
func (m *Memory) Close(ctx context.Context) error { return nil }
