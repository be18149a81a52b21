package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "ephemeral", []byte("v"), 20*time.Millisecond))

	got, err := s.Get(ctx, "ephemeral")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "ephemeral")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	val := []byte("original")
	require.NoError(t, s.Set(ctx, "k", val, 0))
	val[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)
}
