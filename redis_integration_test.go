//go:build integration

package main

import (
	"context"
	"testing"

	"go-identity-flow/redis"
	"go-identity-flow/settings"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) redis.RedisConfig {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return redis.RedisConfig{Host: host, Port: port.Int(), Namespace: "idflow-test", ConnectRetries: 5}
}

func TestRedisTokenStorage(t *testing.T) {
	ctx := context.Background()
	config := startRedis(t)

	client, err := redis.NewRedisClient(&config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	storage := NewRedisTokenStorage(client, config.Namespace)

	_, err = storage.RetrieveToken(ctx, "flow-1")
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, storage.StoreToken(ctx, "flow-1", "nonce"))
	nonce, err := storage.RetrieveToken(ctx, "flow-1")
	require.NoError(t, err)
	require.Equal(t, "nonce", nonce)

	ttl, err := client.TTL(ctx, createKey(config.Namespace, "flow-1")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, Timeout/2)

	require.NoError(t, storage.RemoveToken(ctx, "flow-1"))
	require.ErrorIs(t, storage.RemoveToken(ctx, "flow-1"), ErrTokenNotFound)
}

func TestRedisSettingsRepository(t *testing.T) {
	ctx := context.Background()
	config := startRedis(t)

	client, err := redis.NewRedisClient(&config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repo := settings.NewRedisRepository(client, config.Namespace)

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, settings.Default(), loaded)

	draft := settings.NewDraft(loaded)
	require.NoError(t, draft.Update(func(s *settings.Settings) error {
		s.Document.OCREnabled = true
		s.Remote.ListID = "staff"
		return nil
	}))
	saved, err := draft.Apply(ctx, repo)
	require.NoError(t, err)

	loaded, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, saved, loaded)
}
