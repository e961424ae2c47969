package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryKV is an in-process KV used by tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) ScanPrefix(_ context.Context, prefix, cursor string, limit int) ([]KVItem, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			if cursor != "" && k < cursor {
				continue
			}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var items []KVItem
	var next string
	for _, k := range keys {
		if limit > 0 && len(items) == limit {
			next = k
			break
		}
		items = append(items, KVItem{Key: k, Value: append([]byte(nil), m.data[k]...)})
	}
	return items, next, nil
}

func (m *MemoryKV) Close() error { return nil }
