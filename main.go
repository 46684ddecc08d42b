package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-identity-flow/credential"
	"go-identity-flow/crosscheck"
	"go-identity-flow/document"
	"go-identity-flow/face"
	"go-identity-flow/flow"
	"go-identity-flow/identity"
	"go-identity-flow/journal"
	"go-identity-flow/logging"
	"go-identity-flow/metrics"
	"go-identity-flow/redis"
	"go-identity-flow/settings"

	"github.com/gmrtd/gmrtd/cms"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`
	LogLevel     string       `json:"log_level,omitempty"`
	LogFormat    string       `json:"log_format,omitempty"`

	FaceApiUrl      string          `json:"face_api_url"`
	IdentityService identity.Config `json:"identity_service"`

	// Optional, credential issuance is disabled without a key
	JwtPrivateKeyPath string `json:"jwt_private_key_path,omitempty"`
	IrmaServerUrl     string `json:"irma_server_url,omitempty"`
	IssuerId          string `json:"issuer_id,omitempty"`
	FullCredential    string `json:"full_credential,omitempty"`
	SdJwtBatchSize    uint   `json:"sd_jwt_batch_size,omitempty"`

	// "memory", "redis" or "redis_sentinel"
	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`

	// "memory", "file" or "redis"
	SettingsStorage string `json:"settings_storage"`
	SettingsFile    string `json:"settings_file,omitempty"`

	// "memory" or "postgres"
	JournalType     string                 `json:"journal_type"`
	JournalSize     int                    `json:"journal_size,omitempty"`
	JournalPostgres journal.PostgresConfig `json:"journal_postgres,omitempty"`
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, using the process environment", "error", err)
	}

	configPath := flag.String("config", os.Getenv("IDFLOW_CONFIG"), "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag or IDFLOW_CONFIG")
		os.Exit(1)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if level := os.Getenv("IDFLOW_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	logging.InitLoggerWithFormat(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)

	if err := run(config); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(config Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenStorage, err := createTokenStorage(&config)
	if err != nil {
		return fmt.Errorf("failed to instantiate token storage: %w", err)
	}

	settingsRepo, err := createSettingsRepository(&config)
	if err != nil {
		return fmt.Errorf("failed to instantiate settings repository: %w", err)
	}

	store, closeJournal, err := createJournal(ctx, &config)
	if err != nil {
		return fmt.Errorf("failed to instantiate journal: %w", err)
	}
	defer closeJournal()

	passportCertPool, err := cms.GetDefaultMasterList()
	if err != nil {
		return fmt.Errorf("CscaCertPool error: %w", err)
	}

	if config.FaceApiUrl == "" {
		return errors.New("face_api_url is required")
	}
	faceClient := face.NewRegulaFaceClient(config.FaceApiUrl)

	if config.IdentityService.BaseURL == "" {
		return errors.New("identity_service.base_url is required")
	}
	identityClient := identity.NewClient(config.IdentityService)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	flowMetrics := metrics.New(registry)

	serverState := ServerState{
		irmaServerURL:  config.IrmaServerUrl,
		tokenStorage:   tokenStorage,
		settings:       settingsRepo,
		documentReader: document.NewPassportReader(passportCertPool),
		crossValidator: crosscheck.NewValidator(faceClient),
		identity:       identityClient,
		liveness:       faceClient,
		observer:       flow.Observers(flowMetrics, journal.NewRecorder(store)),
		journal:        store,
		healthChecks: map[string]HealthChecker{
			"face_api":         faceClient,
			"identity_service": identityClient,
		},
		metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if pg, ok := store.(*journal.PostgresStore); ok {
		serverState.healthChecks["journal"] = healthFunc(pg.Ping)
	}

	if config.JwtPrivateKeyPath != "" {
		jwtCreator, err := credential.NewIrmaJwtCreator(
			config.JwtPrivateKeyPath,
			config.IssuerId,
			config.FullCredential,
			config.SdJwtBatchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to instantiate jwt creator: %w", err)
		}
		serverState.jwtCreator = jwtCreator
	} else {
		slog.Info("No jwt private key configured, credential issuance disabled")
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to listen and serve: %w", err)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
		return server.Stop()
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func createTokenStorage(config *Config) (TokenStorage, error) {
	switch config.StorageType {
	case "redis":
		slog.Info("Using redis token storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisTokenStorage(client, config.RedisConfig.Namespace), nil
	case "redis_sentinel":
		slog.Info("Using redis sentinel token storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisTokenStorage(client, config.RedisSentinelConfig.Namespace), nil
	case "memory":
		slog.Info("Using in memory token storage")
		return NewInMemoryTokenStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}

func createSettingsRepository(config *Config) (settings.Repository, error) {
	switch config.SettingsStorage {
	case "", "memory":
		slog.Info("Using in memory settings")
		return settings.NewMemoryRepository(), nil
	case "file":
		if config.SettingsFile == "" {
			return nil, errors.New("settings_file is required for file settings storage")
		}
		slog.Info("Using file settings", "path", config.SettingsFile)
		return settings.NewFileRepository(config.SettingsFile), nil
	case "redis":
		slog.Info("Using redis settings")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return settings.NewRedisRepository(client, config.RedisConfig.Namespace), nil
	}
	return nil, fmt.Errorf("%v is not a valid settings storage", config.SettingsStorage)
}

func createJournal(ctx context.Context, config *Config) (journal.Store, func(), error) {
	switch config.JournalType {
	case "", "memory":
		slog.Info("Using in memory journal", "size", config.JournalSize)
		return journal.NewMemoryStore(config.JournalSize), func() {}, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := journal.OpenPostgres(ctx, config.JournalPostgres)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using postgres journal")
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("%v is not a valid journal type", config.JournalType)
}
