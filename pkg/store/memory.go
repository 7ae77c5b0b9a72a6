package store

import (
	"context"
	"sync"

	"github.com/routeoptions/route-options/pkg/models"
)

// DefaultMaxEntries bounds the in-memory history
const DefaultMaxEntries = 1000

// MemoryStore is an in-memory implementation of the query history
type MemoryStore struct {
	mu         sync.RWMutex
	queries    map[string]*models.RouteQuery
	order      []string // insertion order, oldest first
	maxEntries int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		queries:    make(map[string]*models.RouteQuery),
		order:      make([]string, 0),
		maxEntries: maxEntries,
	}
}

// SaveQuery stores a copy of q
func (s *MemoryStore) SaveQuery(ctx context.Context, q *models.RouteQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *q
	if _, exists := s.queries[q.ID]; !exists {
		s.order = append(s.order, q.ID)
	}
	s.queries[q.ID] = &cp

	for len(s.order) > s.maxEntries {
		delete(s.queries, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// GetQuery retrieves a query by ID
func (s *MemoryStore) GetQuery(ctx context.Context, id string) (*models.RouteQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queries[id]
	if !ok {
		return nil, ErrQueryNotFound
	}
	cp := *q
	return &cp, nil
}

// ListQueries returns up to limit queries, newest first
func (s *MemoryStore) ListQueries(ctx context.Context, limit int) ([]*models.RouteQuery, error) {
	if limit <= 0 {
		return []*models.RouteQuery{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RouteQuery, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.queries[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// Stats aggregates the retained history
func (s *MemoryStore) Stats(ctx context.Context) (*models.QueryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := newStats()
	for _, q := range s.queries {
		stats.Total++
		stats.ByPreference[string(q.Preference)]++
		stats.ByStatus[string(q.Status)]++
	}
	return stats, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
