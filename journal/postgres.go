package journal

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresConfig struct {
	URL      string `json:"url"`
	MaxConns int32  `json:"max_conns,omitempty"`
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database and applies pending migrations.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid journal database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to load journal migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate journal database: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied journal migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flow_journal (flow_id, mode, outcome, error_kind, external_id, face_id, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.FlowID, e.Mode, e.Outcome, e.ErrorKind, e.ExternalID, e.FaceID, e.FinishedAt)
	return err
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT flow_id, mode, outcome, error_kind, external_id, face_id, finished_at
		FROM flow_journal
		ORDER BY finished_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.FlowID, &e.Mode, &e.Outcome, &e.ErrorKind, &e.ExternalID, &e.FaceID, &e.FinishedAt)
		return e, err
	})
}
