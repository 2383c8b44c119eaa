package storage

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/galleria/galleria/internal/naming"
)

// MemoryBackend implements Backend with an in-process map. Contents are lost
// on restart; it backs tests and `storage.backend: memory`.
type MemoryBackend struct {
	mu           sync.RWMutex
	files        map[string][]byte
	currentSize  int64
	maxSizeBytes int64
	present      bool
}

// NewMemoryBackend creates an empty MemoryBackend. A positive maxSizeBytes
// caps the total bytes held; writes beyond it fail.
func NewMemoryBackend(maxSizeBytes int64) *MemoryBackend {
	return &MemoryBackend{
		files:        make(map[string][]byte),
		maxSizeBytes: maxSizeBytes,
		present:      true,
	}
}

// SetRootPresent toggles whether Walk sees a root at all. Tests use it to
// simulate an absent store root.
func (b *MemoryBackend) SetRootPresent(present bool) {
	b.mu.Lock()
	b.present = present
	b.mu.Unlock()
}

// EnsureRoot marks the root present.
func (b *MemoryBackend) EnsureRoot(ctx context.Context) error {
	b.SetRootPresent(true)
	return nil
}

// Write stores a copy of data at rel.
func (b *MemoryBackend) Write(ctx context.Context, rel string, data []byte) error {
	if !naming.Valid(rel) {
		return &WriteError{Path: rel, Err: fmt.Errorf("invalid path")}
	}
	key := naming.Normalize(rel)
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	defer b.mu.Unlock()

	delta := int64(len(cp))
	if existing, found := b.files[key]; found {
		delta -= int64(len(existing))
	}
	if b.maxSizeBytes > 0 && b.currentSize+delta > b.maxSizeBytes {
		return &WriteError{Path: rel, Err: fmt.Errorf("memory limit exceeded: current=%d, delta=%d, max=%d", b.currentSize, delta, b.maxSizeBytes)}
	}
	b.files[key] = cp
	b.currentSize += delta
	b.present = true
	return nil
}

// Read returns a copy of the bytes at rel.
func (b *MemoryBackend) Read(ctx context.Context, rel string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, found := b.files[naming.Normalize(rel)]
	if !found {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete removes rel. Idempotent.
func (b *MemoryBackend) Delete(ctx context.Context, rel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := naming.Normalize(rel)
	if data, found := b.files[key]; found {
		b.currentSize -= int64(len(data))
		delete(b.files, key)
	}
	return nil
}

// Exists reports whether rel is stored.
func (b *MemoryBackend) Exists(ctx context.Context, rel string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, found := b.files[naming.Normalize(rel)]
	return found, nil
}

// Walk yields a snapshot of the stored paths taken when ranging begins.
func (b *MemoryBackend) Walk(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		b.mu.RLock()
		if !b.present {
			b.mu.RUnlock()
			yield("", ErrRootNotFound)
			return
		}
		keys := make([]string, 0, len(b.files))
		for k := range b.files {
			keys = append(keys, k)
		}
		b.mu.RUnlock()

		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored files.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}

// HealthCheck always returns nil for the memory backend since there is no
// external dependency to verify.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
