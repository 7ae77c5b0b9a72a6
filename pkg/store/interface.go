package store

import (
	"context"
	"errors"
	"time"

	"github.com/routeoptions/route-options/pkg/models"
)

var (
	ErrQueryNotFound       = errors.New("query not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store persists the route query history.
// Memory, SQLite and PostgreSQL implement this interface.
type Store interface {
	SaveQuery(ctx context.Context, q *models.RouteQuery) error
	GetQuery(ctx context.Context, id string) (*models.RouteQuery, error)
	ListQueries(ctx context.Context, limit int) ([]*models.RouteQuery, error)
	Stats(ctx context.Context) (*models.QueryStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
	Path string `mapstructure:"path" yaml:"path"` // SQLite file

	// PostgreSQL pool
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// MaxEntries caps the in-memory history; oldest entries are dropped
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(config.MaxEntries), nil
	case "sqlite", "sqlite3":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "routeapi.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

func newStats() *models.QueryStats {
	return &models.QueryStats{
		ByPreference: make(map[string]int),
		ByStatus:     make(map[string]int),
	}
}
