package persistence

import (
	"context"
	"sync"
)

// MemoryBackend is a Backend that keeps documents in process memory. It is
// safe for concurrent use and intended for tests and local runs.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]Document)}
}

func (b *MemoryBackend) Load(_ context.Context, id string) (Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Body = append([]byte(nil), doc.Body...)
	return doc, nil
}

func (b *MemoryBackend) Insert(_ context.Context, id string, body []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.docs[id]; ok {
		return 0, ErrExists
	}
	b.docs[id] = Document{ID: id, Revision: 1, Body: append([]byte(nil), body...)}
	return 1, nil
}

func (b *MemoryBackend) Replace(_ context.Context, id string, rev uint64, body []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[id]
	if !ok {
		return 0, ErrNotFound
	}
	if doc.Revision != rev {
		return 0, ErrConflict
	}
	doc.Revision++
	doc.Body = append([]byte(nil), body...)
	b.docs[id] = doc
	return doc.Revision, nil
}

func (b *MemoryBackend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.docs[id]; !ok {
		return ErrNotFound
	}
	delete(b.docs, id)
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

// Len returns the number of stored documents.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}
