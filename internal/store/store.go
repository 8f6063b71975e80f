package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Store aggregates the repositories behind one backend.
type Store struct {
	pool pinger

	Events EventRepository
}

// New wires PostgreSQL repositories with the shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		Events: &eventRepo{pool: pool},
	}
}

// NewMemory returns a Store kept entirely in process memory.
func NewMemory(now func() time.Time) *Store {
	return &Store{
		Events: NewMemoryEventRepository(now),
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}
