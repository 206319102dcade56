package recordstore

import (
	"context"
	"sync"
	"time"
)

type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, newError(CodeNotFound, "get", key, nil)
	}
	return copyRecord(rec), nil
}

func (m *MemoryBackend) Create(ctx context.Context, key string, fields Fields) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; ok {
		return nil, newError(CodeAlreadyExists, "create", key, nil)
	}
	rec := &Record{Key: key, Fields: fields.clone(), Version: 1, UpdatedAt: m.now()}
	m.records[key] = rec
	return copyRecord(rec), nil
}

func (m *MemoryBackend) UpdateIfVersion(ctx context.Context, key string, expectedVersion int64, updates Fields) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, newError(CodeNotFound, "update", key, nil)
	}
	if rec.Version != expectedVersion {
		return nil, newError(CodeConditionFailed, "update", key, nil)
	}
	for k, v := range updates {
		rec.Fields[k] = v
	}
	rec.Version++
	rec.UpdatedAt = m.now()
	return copyRecord(rec), nil
}

func copyRecord(r *Record) *Record {
	cp := *r
	cp.Fields = r.Fields.clone()
	return &cp
}

var _ Backend = (*MemoryBackend)(nil)
