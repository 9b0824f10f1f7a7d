package tokenstore

import (
	"context"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryBackend keeps the session in process memory. Entries never expire on
// their own; expiry of the session is judged by Storage.
type MemoryBackend struct {
	cache  *ttlcache.Cache[string, []byte]
	closed atomic.Bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []byte](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, ErrClosed
	}
	item := m.cache.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.Value()...), true, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.cache.Set(key, append([]byte(nil), value...), ttlcache.NoTTL)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	for _, key := range keys {
		m.cache.Delete(key)
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.closed.Store(true)
	m.cache.DeleteAll()
	return nil
}
