package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTokenNotFound = errors.New("token not found")

// TokenStorage keeps the nonce handed out when a flow starts. Document
// submissions and credential requests must present it.
// Should be safe to use concurrently.
type TokenStorage interface {
	// Store the nonce for the given flow. Overwrites an existing value.
	StoreToken(ctx context.Context, flowId string, nonce string) error

	// Retrieve the nonce for the given flow. Returns ErrTokenNotFound when
	// there is none.
	RetrieveToken(ctx context.Context, flowId string) (string, error)

	// Remove the nonce. A missing value is reported as ErrTokenNotFound.
	RemoveToken(ctx context.Context, flowId string) error
}

// Timeout bounds how long a nonce stays valid.
const Timeout time.Duration = 24 * time.Hour

// ------------------------------------------------------------------------------

type RedisTokenStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisTokenStorage(client *redis.Client, namespace string) *RedisTokenStorage {
	return &RedisTokenStorage{client: client, namespace: namespace}
}

func createKey(namespace, flowId string) string {
	return fmt.Sprintf("%s:nonce:%s", namespace, flowId)
}

func (s *RedisTokenStorage) StoreToken(ctx context.Context, flowId string, nonce string) error {
	return s.client.Set(ctx, createKey(s.namespace, flowId), nonce, Timeout).Err()
}

func (s *RedisTokenStorage) RetrieveToken(ctx context.Context, flowId string) (string, error) {
	nonce, err := s.client.Get(ctx, createKey(s.namespace, flowId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w for %s", ErrTokenNotFound, flowId)
	}
	return nonce, err
}

func (s *RedisTokenStorage) RemoveToken(ctx context.Context, flowId string) error {
	removed, err := s.client.Del(ctx, createKey(s.namespace, flowId)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%w for %s", ErrTokenNotFound, flowId)
	}
	return nil
}

// ------------------------------------------------------------------------------

type storedToken struct {
	nonce   string
	expires time.Time
}

type InMemoryTokenStorage struct {
	tokens map[string]storedToken
	mutex  sync.Mutex
	now    func() time.Time
}

func NewInMemoryTokenStorage() *InMemoryTokenStorage {
	return &InMemoryTokenStorage{
		tokens: make(map[string]storedToken),
		now:    time.Now,
	}
}

func (s *InMemoryTokenStorage) StoreToken(_ context.Context, flowId, nonce string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tokens[flowId] = storedToken{nonce: nonce, expires: s.now().Add(Timeout)}
	return nil
}

func (s *InMemoryTokenStorage) RetrieveToken(_ context.Context, flowId string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	token, ok := s.lookupLocked(flowId)
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrTokenNotFound, flowId)
	}
	return token.nonce, nil
}

func (s *InMemoryTokenStorage) RemoveToken(_ context.Context, flowId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.lookupLocked(flowId); !ok {
		return fmt.Errorf("%w for %s", ErrTokenNotFound, flowId)
	}
	delete(s.tokens, flowId)
	return nil
}

func (s *InMemoryTokenStorage) lookupLocked(flowId string) (storedToken, bool) {
	token, ok := s.tokens[flowId]
	if !ok {
		return storedToken{}, false
	}
	if !s.now().Before(token.expires) {
		delete(s.tokens, flowId)
		return storedToken{}, false
	}
	return token, true
}
