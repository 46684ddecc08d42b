package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const pingTimeout = 3 * time.Second

type RedisConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Password  string `json:"password"`
	Namespace string `json:"namespace"`
	// Extra ping attempts at startup, e.g. while the redis container is still booting
	ConnectRetries uint64 `json:"connect_retries,omitempty"`
}

type RedisSentinelConfig struct {
	SentinelHost     string `json:"sentinel_host"`
	SentinelPort     int    `json:"sentinel_port"`
	SentinelUsername string `json:"sentinel_username"`
	Password         string `json:"password"`
	MasterName       string `json:"master_name"`
	Namespace        string `json:"namespace"`
	ConnectRetries   uint64 `json:"connect_retries,omitempty"`
}

func NewRedisClient(config *RedisConfig) (*redis.Client, error) {
	if config.Host == "" || config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("failed to connect to Redis: invalid address %q:%d", config.Host, config.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Password: config.Password,
	})

	if err := ping(client, config.ConnectRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to redis", "host", config.Host, "port", config.Port)
	return client, nil
}

func NewRedisSentinelClient(config *RedisSentinelConfig) (*redis.Client, error) {
	if config.MasterName == "" {
		return nil, errors.New("failed to connect to Redis through Sentinel: master name is required")
	}
	if config.SentinelHost == "" || config.SentinelPort <= 0 || config.SentinelPort > 65535 {
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: invalid address %q:%d", config.SentinelHost, config.SentinelPort)
	}

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       config.MasterName,
		SentinelAddrs:    []string{net.JoinHostPort(config.SentinelHost, strconv.Itoa(config.SentinelPort))},
		SentinelUsername: config.SentinelUsername,
		SentinelPassword: config.Password,
		Password:         config.Password,
	})

	if err := ping(client, config.ConnectRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: %w", err)
	}

	slog.Info("Connected to redis through sentinel", "master", config.MasterName, "sentinel_host", config.SentinelHost)
	return client, nil
}

func ping(client *redis.Client, retries uint64) error {
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(250*time.Millisecond))

	return retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			slog.Debug("Redis ping failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
