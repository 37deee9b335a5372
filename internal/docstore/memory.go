package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is the in-memory document store. It favors clarity over performance
// and backs unit tests as well as single-node development setups.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	arrays map[string][][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string]Document),
		arrays: make(map[string][][]byte),
	}
}

func (m *Memory) InsertIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; ok {
		return false, nil
	}
	m.docs[key] = Document{Key: key, Value: cloneBytes(value), Version: 1}
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Value = cloneBytes(doc.Value)
	return doc, nil
}

func (m *Memory) UpdateIfVersion(_ context.Context, key string, value []byte, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		return false, ErrNotFound
	}
	if doc.Version != expectedVersion {
		return false, nil
	}
	m.docs[key] = Document{Key: key, Value: cloneBytes(value), Version: doc.Version + 1}
	return true, nil
}

func (m *Memory) AppendToArray(_ context.Context, key string, item []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrays[key] = append(m.arrays[key], cloneBytes(item))
	return len(m.arrays[key]), nil
}

func (m *Memory) ListArray(_ context.Context, key string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.arrays[key]
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = cloneBytes(item)
	}
	return out, nil
}

func (m *Memory) QueryByField(_ context.Context, field, value string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, doc := range m.docs {
		if fieldEquals(doc.Value, field, value) {
			matched := doc
			matched.Value = cloneBytes(doc.Value)
			out = append(out, matched)
		}
	}
	// Map iteration order is random; callers get a stable order instead.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// fieldEquals reports whether the JSON document has a top-level string field
// with the given value.
func fieldEquals(value []byte, field, want string) bool {
	var payload map[string]any
	if err := json.Unmarshal(value, &payload); err != nil {
		return false
	}
	got, ok := payload[field].(string)
	return ok && got == want
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
