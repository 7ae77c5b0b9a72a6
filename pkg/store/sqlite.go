package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/routeoptions/route-options/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the query history
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a busy timeout keeps readers from blocking the single writer
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS route_queries (
		id TEXT PRIMARY KEY,
		origin_lat REAL NOT NULL,
		origin_lng REAL NOT NULL,
		destination_lat REAL NOT NULL,
		destination_lng REAL NOT NULL,
		preference TEXT NOT NULL,
		k INTEGER NOT NULL,
		returned INTEGER NOT NULL,
		best_route_id TEXT NOT NULL DEFAULT '',
		best_score REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		osrm_latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_route_queries_created_at ON route_queries(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveQuery inserts or replaces a query record
func (s *SQLiteStore) SaveQuery(ctx context.Context, q *models.RouteQuery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO route_queries (
			id, origin_lat, origin_lng, destination_lat, destination_lng,
			preference, k, returned, best_route_id, best_score,
			status, error, osrm_latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Origin.Lat, q.Origin.Lng, q.Destination.Lat, q.Destination.Lng,
		string(q.Preference), q.K, q.Returned, q.BestRouteID, q.BestScore,
		string(q.Status), q.Error, q.OSRMLatencyMs, q.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save query: %w", err)
	}
	return nil
}

const selectQueryColumns = `
	SELECT id, origin_lat, origin_lng, destination_lat, destination_lng,
		preference, k, returned, best_route_id, best_score,
		status, error, osrm_latency_ms, created_at
	FROM route_queries`

// GetQuery retrieves a query by ID
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*models.RouteQuery, error) {
	row := s.db.QueryRowContext(ctx, selectQueryColumns+` WHERE id = ?`, id)
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
func (s *SQLiteStore) ListQueries(ctx context.Context, limit int) ([]*models.RouteQuery, error) {
	rows, err := s.db.QueryContext(ctx, selectQueryColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	return collectQueries(rows)
}

// Stats aggregates the history with GROUP BY queries
func (s *SQLiteStore) Stats(ctx context.Context) (*models.QueryStats, error) {
	return aggregateStats(ctx, s.db)
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (*models.RouteQuery, error) {
	var (
		q          models.RouteQuery
		preference string
		status     string
	)
	err := row.Scan(
		&q.ID, &q.Origin.Lat, &q.Origin.Lng, &q.Destination.Lat, &q.Destination.Lng,
		&preference, &q.K, &q.Returned, &q.BestRouteID, &q.BestScore,
		&status, &q.Error, &q.OSRMLatencyMs, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Preference = models.Preference(preference)
	q.Status = models.QueryStatus(status)
	return &q, nil
}

func collectQueries(rows *sql.Rows) ([]*models.RouteQuery, error) {
	out := make([]*models.RouteQuery, 0)
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func aggregateStats(ctx context.Context, db *sql.DB) (*models.QueryStats, error) {
	stats := newStats()

	count := func(column string, into map[string]int) error {
		rows, err := db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM route_queries GROUP BY `+column)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				return err
			}
			into[key] = n
		}
		return rows.Err()
	}

	if err := count("preference", stats.ByPreference); err != nil {
		return nil, fmt.Errorf("failed to count by preference: %w", err)
	}
	if err := count("status", stats.ByStatus); err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	for _, n := range stats.ByStatus {
		stats.Total += n
	}
	return stats, nil
}
