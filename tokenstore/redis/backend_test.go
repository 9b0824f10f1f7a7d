package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/standhub/tokenstore"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewBackend(client, "standhub")
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestBackend_KeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBackend(t)

	require.NoError(t, b.Put(ctx, "session", []byte("payload")))
	assert.True(t, mr.Exists("standhub:session:session"))

	value, found, err := b.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), value)
}

func TestBackend_MissingKey(t *testing.T) {
	b, _ := newTestBackend(t)
	_, found, err := b.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBackend_WithStorage(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBackend(t)
	s := tokenstore.New(b, tokenstore.Options{})

	require.NoError(t, s.SaveTokenWithMetadata(ctx, "shared", time.Now().Add(time.Hour), "u1"))
	require.NoError(t, s.MarkRefreshAttempt(ctx))

	token, ok := s.GetToken(ctx)
	require.True(t, ok)
	assert.Equal(t, "shared", token)

	require.NoError(t, s.ClearTokenStorage(ctx))
	assert.False(t, mr.Exists("standhub:session:session"))
	assert.False(t, mr.Exists("standhub:session:last_refresh_attempt"))
}

func TestBackend_ServerDownFailsClosed(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBackend(t)
	s := tokenstore.New(b, tokenstore.Options{})
	require.NoError(t, s.SaveTokenWithMetadata(ctx, "tok", time.Now().Add(time.Hour), "u1"))

	mr.Close()

	_, ok := s.GetToken(ctx)
	assert.False(t, ok)
}
