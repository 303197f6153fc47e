package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryRecorder keeps calls in memory. Used in tests and when persistence is disabled.
type MemoryRecorder struct {
	mu        sync.Mutex
	order     []string
	calls     map[string]CallRecord
	responses map[string]ResponseRecord
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		calls:     make(map[string]CallRecord),
		responses: make(map[string]ResponseRecord),
	}
}

// RecordCall stores a copy of call.
func (m *MemoryRecorder) RecordCall(_ context.Context, call *CallRecord) (string, error) {
	if call == nil {
		return "", fmt.Errorf("audit call record cannot be nil")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[call.ID]; !ok {
		m.order = append(m.order, call.ID)
	}
	m.calls[call.ID] = *call
	return call.ID, nil
}

// FinalizeResponse stores the response; a second finalize for the same call fails.
func (m *MemoryRecorder) FinalizeResponse(_ context.Context, callID string, resp *ResponseRecord) error {
	if resp == nil {
		return fmt.Errorf("audit response record cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[callID]; !ok {
		return fmt.Errorf("finalize %s: %w", callID, ErrCallNotFound)
	}
	if _, ok := m.responses[callID]; ok {
		return fmt.Errorf("finalize %s: %w", callID, ErrAlreadyFinalized)
	}
	m.responses[callID] = *resp
	return nil
}

// Calls returns recorded calls in insertion order.
func (m *MemoryRecorder) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.calls[id])
	}
	return out
}

// Response returns the finalized response for callID.
func (m *MemoryRecorder) Response(callID string) (ResponseRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[callID]
	return r, ok
}

// ResponseCount returns how many calls have been finalized.
func (m *MemoryRecorder) ResponseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}
