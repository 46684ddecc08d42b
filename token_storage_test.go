package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryTokenStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewInMemoryTokenStorage()

	_, err := storage.RetrieveToken(ctx, "flow-1")
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, storage.StoreToken(ctx, "flow-1", "nonce-a"))
	nonce, err := storage.RetrieveToken(ctx, "flow-1")
	require.NoError(t, err)
	require.Equal(t, "nonce-a", nonce)

	require.NoError(t, storage.StoreToken(ctx, "flow-1", "nonce-b"))
	nonce, err = storage.RetrieveToken(ctx, "flow-1")
	require.NoError(t, err)
	require.Equal(t, "nonce-b", nonce)

	require.NoError(t, storage.RemoveToken(ctx, "flow-1"))
	require.ErrorIs(t, storage.RemoveToken(ctx, "flow-1"), ErrTokenNotFound)
}

func TestInMemoryTokenStorage_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	storage := NewInMemoryTokenStorage()
	storage.now = func() time.Time { return now }

	require.NoError(t, storage.StoreToken(ctx, "flow-1", "nonce"))

	now = now.Add(Timeout - time.Second)
	_, err := storage.RetrieveToken(ctx, "flow-1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = storage.RetrieveToken(ctx, "flow-1")
	require.ErrorIs(t, err, ErrTokenNotFound)
	require.ErrorIs(t, storage.RemoveToken(ctx, "flow-1"), ErrTokenNotFound)
}
