package appointment

import (
	"context"
	"sync"
)

// Backend persists the serialized appointment list under a key.
type Backend interface {
	Name() string
	// Load returns ok=false when the key is absent.
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)
	Save(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) error
}

// replica marks backends private to this process. They are refreshed from
// snapshots published by other instances.
type replica interface {
	replica()
}

// MemoryBackend is an in-process backend. The server runs two of them,
// "memory" and "session", mirroring the browser's local and session
// storages.
type MemoryBackend struct {
	name string
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{name: name, data: make(map[string][]byte)}
}

func (b *MemoryBackend) Name() string { return b.name }

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) replica() {}
