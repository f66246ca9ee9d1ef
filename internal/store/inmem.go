package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// InMem is the default backend: two independent maps, each guarded by its
// own lock.
type InMem struct {
	memory *memoryMap
	plans  *planMap
}

func NewInMem() *InMem {
	return &InMem{
		memory: &memoryMap{entries: make(map[string]*MemoryEntry)},
		plans:  &planMap{byID: make(map[string]struct{})},
	}
}

func (s *InMem) Memory() MemoryStore { return s.memory }
func (s *InMem) Plans() PlanStore    { return s.plans }
func (s *InMem) Close() error        { return nil }

type memoryMap struct {
	mu      sync.RWMutex
	entries map[string]*MemoryEntry
	order   []string
}

func (m *memoryMap) Put(_ context.Context, key string, content json.RawMessage, now time.Time) error {
	content = cloneRaw(content)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.Content = content
		e.LastAccessed = laterOf(e.LastAccessed, now)
		return nil
	}
	m.entries[key] = &MemoryEntry{Content: content, CreatedAt: now, LastAccessed: now}
	m.order = append(m.order, key)
	return nil
}

func (m *memoryMap) List(_ context.Context) ([]MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MemoryRecord, 0, len(m.order))
	for _, key := range m.order {
		e := m.entries[key]
		out = append(out, MemoryRecord{Key: key, Entry: *e})
	}
	return out, nil
}

func (m *memoryMap) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *memoryMap) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*MemoryEntry)
	m.order = nil
	return nil
}

type planMap struct {
	mu    sync.RWMutex
	byID  map[string]struct{}
	plans []Plan
}

func (p *planMap) Insert(_ context.Context, plan Plan) error {
	plan.Steps = cloneRaw(plan.Steps)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.byID[plan.ID]; dup {
		return ErrDuplicatePlan
	}
	p.byID[plan.ID] = struct{}{}
	p.plans = append(p.plans, plan)
	return nil
}

func (p *planMap) List(_ context.Context) ([]Plan, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Plan, len(p.plans))
	copy(out, p.plans)
	return out, nil
}

func (p *planMap) Len(_ context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.plans), nil
}

func (p *planMap) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID = make(map[string]struct{})
	p.plans = nil
	return nil
}

// callers may reuse their buffers after a write returns
func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
