package objectstore

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory implements Store backed by process memory. Intended for tests.
type Memory struct {
	objs map[string][]byte
	info map[string]Info
	mu   sync.RWMutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objs: make(map[string][]byte),
		info: make(map[string]Info),
	}
}

// Driver returns DriverMemory.
func (m *Memory) Driver() Driver { return DriverMemory }

// Put stores the object, replacing any previous content.
func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ PutOptions) (Info, error) {
	if _, err := sanitizeKey(key); err != nil {
		return Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	info := Info{Key: key, Size: int64(len(b)), LastModified: time.Now().UTC()}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = b
	m.info[key] = info
	return info, nil
}

// List returns objects whose key starts with prefix, sorted by key.
func (m *Memory) List(_ context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Info
	for key, info := range m.info {
		if strings.HasPrefix(key, prefix) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Read returns a copy of the stored object.
func (m *Memory) Read(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// URI renders mem://key.
func (m *Memory) URI(key string) string {
	return "mem://" + key
}
