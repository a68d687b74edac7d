package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

type memoryKey struct {
	contentType interfaces.ContentType
	id          interfaces.ContentID
}

// MemoryBackend keeps ciphertexts in process memory. Used for development and tests.
type MemoryBackend struct {
	mu    sync.RWMutex
	name  string
	items map[memoryKey][]byte
	log   *slog.Logger
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		name:  name,
		items: make(map[memoryKey][]byte),
		log:   log,
	}
}

func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.items[memoryKey{contentType, id}]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return bytes.Clone(data), nil
}

func (b *MemoryBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	b.mu.Lock()
	b.items[memoryKey{contentType, id}] = bytes.Clone(data)
	b.mu.Unlock()

	b.log.Debug("Stored content in memory",
		slog.String("backend", b.name),
		slog.String("contentID", id.String()),
		slog.Int("size", len(data)))

	return id, nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}
