package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// memoryRepository is an in-memory StateRepository for tests.
type memoryRepository struct {
	mu      sync.Mutex
	docs    map[string]json.RawMessage
	streams map[string][]json.RawMessage
	failAll bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		docs:    make(map[string]json.RawMessage),
		streams: make(map[string][]json.RawMessage),
	}
}

func (m *memoryRepository) GetDocument(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, fmt.Errorf("repository unavailable")
	}
	doc, ok := m.docs[key]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "state_document", ID: key}
	}
	return doc, nil
}

func (m *memoryRepository) PutDocument(_ context.Context, key string, body interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return fmt.Errorf("repository unavailable")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	m.docs[key] = data
	return nil
}

func (m *memoryRepository) DeleteDocument(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key)
	return nil
}

func (m *memoryRepository) AppendRecord(_ context.Context, stream string, body interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return fmt.Errorf("repository unavailable")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	m.streams[stream] = append(m.streams[stream], data)
	return nil
}

func (m *memoryRepository) RecentRecords(_ context.Context, stream string, limit int) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.streams[stream]
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]json.RawMessage, len(records))
	copy(out, records)
	return out, nil
}

func (m *memoryRepository) CountRecords(_ context.Context, stream string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[stream]), nil
}

func (m *memoryRepository) Replay(_ context.Context, stream string, fn func(json.RawMessage) error) error {
	m.mu.Lock()
	records := make([]json.RawMessage, len(m.streams[stream]))
	copy(records, m.streams[stream])
	m.mu.Unlock()

	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryRepository) HealthCheck(_ context.Context) error {
	if m.failAll {
		return fmt.Errorf("repository unavailable")
	}
	return nil
}

var _ repository.StateRepository = (*memoryRepository)(nil)

func testLogger() *logging.StructuredLogger {
	return logging.NewStructuredLogger("test", "0.0.0", logging.ErrorLevel)
}

var (
	testCollectorOnce sync.Once
	testCollector     *metrics.Collector
)

// testMetrics returns a shared collector; prometheus panics on duplicate
// metric registration, so tests reuse one instance.
func testMetrics() *metrics.Collector {
	testCollectorOnce.Do(func() {
		testCollector = metrics.NewCollector("orchard_test")
	})
	return testCollector
}
