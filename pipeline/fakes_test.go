package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"callpipe/models"
)

type published struct {
	key   string
	value []byte
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (m *mockPublisher) Publish(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, published{key: key, value: value})
	return nil
}

type mockValidator struct{ err error }

func (v mockValidator) Validate(doc interface{}) error { return v.err }

var errNotFound = errors.New("not found")

type mockSink struct {
	mu    sync.Mutex
	calls map[string]models.NormalizedCall
	order []string
	err   error
}

func newMockSink() *mockSink { return &mockSink{calls: map[string]models.NormalizedCall{}} }

func (s *mockSink) Save(ctx context.Context, call models.NormalizedCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	key := call.Source + "/" + call.CallID
	if _, ok := s.calls[key]; ok {
		return nil
	}
	s.calls[key] = call
	s.order = append(s.order, key)
	return nil
}

func (s *mockSink) Get(ctx context.Context, source, callID string) (models.NormalizedCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[source+"/"+callID]
	if !ok {
		return models.NormalizedCall{}, fmt.Errorf("%s/%s: %w", source, callID, errNotFound)
	}
	return c, nil
}

func (s *mockSink) List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NormalizedCall
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.calls[s.order[i]]
		if source != "" && c.Source != source {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *mockSink) Ping(ctx context.Context) error { return s.err }

type mockNotifier struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (n *mockNotifier) Broadcast(msg interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

const teamsCallJSON = `{
	"source": "Teams",
	"callId": "CALL_001",
	"startTime": "2023-10-01T10:00:00Z",
	"endTime": "2023-10-01T10:30:00Z",
	"participants": ["user1@domain.com", "user2@domain.com"],
	"recording": true
}`

func sourceCallJSON(source string) string {
	return fmt.Sprintf(`{
		"source": %q,
		"callId": "%s_001",
		"startTime": "2023-10-01T10:00:00Z",
		"endTime": "2023-10-01T10:30:00Z",
		"participants": ["user1@domain.com"],
		"recording": false
	}`, source, source)
}
