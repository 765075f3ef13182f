package step

import (
	"context"
	"sync"
)

// MemoryCheckpoints keeps checkpoints in process memory.
type MemoryCheckpoints struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{data: map[string][]byte{}}
}

func (m *MemoryCheckpoints) Load(_ context.Context, runID, step string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[runID+"/"+step]
	return b, ok, nil
}

func (m *MemoryCheckpoints) Save(_ context.Context, runID, step string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[runID+"/"+step] = append([]byte(nil), data...)
	return nil
}

// Forget drops a checkpoint, simulating a step that never completed.
func (m *MemoryCheckpoints) Forget(runID, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, runID+"/"+step)
}
