package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/routeoptions/route-options/pkg/models"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore connects, configures the pool and migrates the schema
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db, config)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func configurePool(db *sql.DB, config Config) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}
}

func (s *PostgreSQLStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS route_queries (
		id UUID PRIMARY KEY,
		origin_lat DOUBLE PRECISION NOT NULL,
		origin_lng DOUBLE PRECISION NOT NULL,
		destination_lat DOUBLE PRECISION NOT NULL,
		destination_lng DOUBLE PRECISION NOT NULL,
		preference VARCHAR(32) NOT NULL,
		k INTEGER NOT NULL,
		returned INTEGER NOT NULL,
		best_route_id VARCHAR(16) NOT NULL DEFAULT '',
		best_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		osrm_latency_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_route_queries_created_at ON route_queries(created_at DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveQuery upserts a query record
func (s *PostgreSQLStore) SaveQuery(ctx context.Context, q *models.RouteQuery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_queries (
			id, origin_lat, origin_lng, destination_lat, destination_lng,
			preference, k, returned, best_route_id, best_score,
			status, error, osrm_latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			returned = EXCLUDED.returned,
			best_route_id = EXCLUDED.best_route_id,
			best_score = EXCLUDED.best_score,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			osrm_latency_ms = EXCLUDED.osrm_latency_ms`,
		q.ID, q.Origin.Lat, q.Origin.Lng, q.Destination.Lat, q.Destination.Lng,
		string(q.Preference), q.K, q.Returned, q.BestRouteID, q.BestScore,
		string(q.Status), q.Error, q.OSRMLatencyMs, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save query: %w", err)
	}
	return nil
}

// GetQuery retrieves a query by ID
func (s *PostgreSQLStore) GetQuery(ctx context.Context, id string) (*models.RouteQuery, error) {
	row := s.db.QueryRowContext(ctx, selectQueryColumns+` WHERE id::text = $1`, id)
	q, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	return q, nil
}

// ListQueries returns up to limit queries, newest first
func (s *PostgreSQLStore) ListQueries(ctx context.Context, limit int) ([]*models.RouteQuery, error) {
	rows, err := s.db.QueryContext(ctx, selectQueryColumns+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	return collectQueries(rows)
}

// Stats aggregates the history
func (s *PostgreSQLStore) Stats(ctx context.Context) (*models.QueryStats, error) {
	return aggregateStats(ctx, s.db)
}

// Ping checks the database connection
func (s *PostgreSQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
