package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Repository persists the settings snapshot new flows are started with.
// Load on an empty store returns Default(). Save rejects invalid settings.
type Repository interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// decode overlays stored JSON on the defaults, so fields missing from
// an older file keep their default value.
func decode(data []byte) (Settings, error) {
	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ------------------------------------------------------------------------------

type MemoryRepository struct {
	mutex sync.Mutex
	saved *Settings
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Load(_ context.Context) (Settings, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.saved == nil {
		return Default(), nil
	}
	return *r.saved, nil
}

func (r *MemoryRepository) Save(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.saved = &s
	return nil
}

// ------------------------------------------------------------------------------

// FileRepository keeps the settings in a JSON file, e.g. one bundled with the
// deployment or picked by an operator.
type FileRepository struct {
	path  string
	mutex sync.Mutex
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) Load(_ context.Context) (Settings, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("No settings file yet, using defaults", "path", r.path)
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return decode(data)
}

func (r *FileRepository) Save(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// write-then-rename so a crash never leaves a half written file
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	slog.Info("Settings saved", "path", r.path)
	return nil
}

// ------------------------------------------------------------------------------

type RedisRepository struct {
	client    *redis.Client
	namespace string
}

func NewRedisRepository(client *redis.Client, namespace string) *RedisRepository {
	return &RedisRepository{client: client, namespace: namespace}
}

func (r *RedisRepository) key() string {
	return fmt.Sprintf("%s:settings", r.namespace)
}

func (r *RedisRepository) Load(ctx context.Context) (Settings, error) {
	data, err := r.client.Get(ctx, r.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings from redis: %w", err)
	}
	return decode(data)
}

func (r *RedisRepository) Save(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	// settings do not expire
	if err := r.client.Set(ctx, r.key(), data, 0).Err(); err != nil {
		return fmt.Errorf("store settings in redis: %w", err)
	}
	return nil
}
