package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routeoptions/route-options/pkg/models"
)

func newQuery(pref models.Preference, status models.QueryStatus, createdAt time.Time) *models.RouteQuery {
	return &models.RouteQuery{
		ID:            uuid.New().String(),
		Origin:        models.LatLng{Lat: 2.4448, Lng: -76.6147},
		Destination:   models.LatLng{Lat: 2.455, Lng: -76.598},
		Preference:    pref,
		K:             3,
		Returned:      2,
		BestRouteID:   "r2",
		BestScore:     6.6,
		Status:        status,
		OSRMLatencyMs: 120,
		CreatedAt:     createdAt,
	}
}

// exerciseStore runs the same contract checks against every backend
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := newQuery(models.PreferenceFastest, models.QueryStatusOK, base)
	second := newQuery(models.PreferenceCheapest, models.QueryStatusOK, base.Add(time.Minute))
	third := newQuery(models.PreferenceCheapest, models.QueryStatusFailed, base.Add(2*time.Minute))
	third.Error = "OSRM error: 503 Service Unavailable"
	third.Returned = 0

	for _, q := range []*models.RouteQuery{first, second, third} {
		require.NoError(t, s.SaveQuery(ctx, q))
	}

	got, err := s.GetQuery(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, third.Error, got.Error)
	assert.Equal(t, models.QueryStatusFailed, got.Status)
	assert.Equal(t, third.Origin, got.Origin)
	assert.True(t, third.CreatedAt.Equal(got.CreatedAt), "created_at mismatch: %v vs %v", third.CreatedAt, got.CreatedAt)

	_, err = s.GetQuery(ctx, uuid.New().String())
	assert.True(t, errors.Is(err, ErrQueryNotFound), "expected ErrQueryNotFound, got %v", err)

	list, err := s.ListQueries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, third.ID, list[0].ID, "newest first")
	assert.Equal(t, second.ID, list[1].ID)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByPreference["CHEAPEST"])
	assert.Equal(t, 1, stats.ByPreference["FASTEST"])
	assert.Equal(t, 1, stats.ByStatus["failed"])

	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	a := newQuery(models.PreferenceFastest, models.QueryStatusOK, time.Now())
	b := newQuery(models.PreferenceFastest, models.QueryStatusOK, time.Now())
	c := newQuery(models.PreferenceFastest, models.QueryStatusOK, time.Now())
	for _, q := range []*models.RouteQuery{a, b, c} {
		require.NoError(t, s.SaveQuery(ctx, q))
	}

	_, err := s.GetQuery(ctx, a.ID)
	assert.ErrorIs(t, err, ErrQueryNotFound)

	list, err := s.ListQueries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	q := newQuery(models.PreferenceFastest, models.QueryStatusOK, time.Now())
	require.NoError(t, s.SaveQuery(ctx, q))

	got, err := s.GetQuery(ctx, q.ID)
	require.NoError(t, err)
	got.Returned = 99

	again, _ := s.GetQuery(ctx, q.ID)
	assert.Equal(t, 2, again.Returned)
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "routeapi_test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

// TestSQLiteConcurrentWrites checks that parallel saves don't hit SQLITE_BUSY
func TestSQLiteConcurrentWrites(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "routeapi_concurrent.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := newQuery(models.PreferenceLowFuel, models.QueryStatusOK, time.Now().Add(time.Duration(i)*time.Millisecond))
			if err := s.SaveQuery(context.Background(), q); err != nil {
				errs <- fmt.Errorf("save %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, stats.Total)
}

func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("ROUTEAPI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ROUTEAPI_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgreSQLStore(Config{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`TRUNCATE route_queries`)
	require.NoError(t, err)

	exerciseStore(t, s)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "factory.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = NewStore(Config{Type: "postgres"})
	assert.Error(t, err, "postgres without DSN must fail")

	_, err = NewStore(Config{Type: "mongodb"})
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)
}
