package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process ObjectStore for local development and tests.
type Memory struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]MemoryObject
	// FailKeys makes Upload fail for keys containing any of these substrings.
	FailKeys []string
}

// MemoryObject is a stored object.
type MemoryObject struct {
	Data        []byte
	ContentType string
}

// NewMemory returns an empty Memory store serving URLs under baseURL.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "http://localhost:8080/uploads"
	}
	return &Memory{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]MemoryObject)}
}

// Upload stores a copy of data.
func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.FailKeys {
		if strings.Contains(key, f) {
			return &uploadError{key: key}
		}
	}
	m.objects[key] = MemoryObject{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

// PublicURL returns baseURL/key.
func (m *Memory) PublicURL(key string) string {
	return joinURL(m.baseURL, key)
}

// Delete removes key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Keys lists stored keys in lexical order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Object returns the stored object for key.
func (m *Memory) Object(key string) (MemoryObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

type uploadError struct {
	key string
}

func (e *uploadError) Error() string {
	return "storage: simulated upload failure for " + e.key
}
