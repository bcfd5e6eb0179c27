package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps pgxpool for Postgres persistence. Tenant-scoped views over it
// are handed out by the accessor methods below.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Extractors returns the extractor configuration store for one tenant.
func (s *Store) Extractors(tenant string) *ExtractorStore {
	return &ExtractorStore{pool: s.pool, tenant: tenant}
}

// Models returns the model-record store for one tenant.
func (s *Store) Models(tenant string) *ModelStore {
	return &ModelStore{pool: s.pool, tenant: tenant}
}

// Suggestions returns the suggestion store for one tenant.
func (s *Store) Suggestions(tenant string) *SuggestionStore {
	return &SuggestionStore{pool: s.pool, tenant: tenant}
}

// Data returns the entity/template/segmentation read side for one tenant.
func (s *Store) Data(tenant string) *DataSource {
	return &DataSource{pool: s.pool, tenant: tenant}
}

// Jobs returns a job store backed by this Postgres instance. It is an
// alternative to the Redis job store with identical locking semantics.
func (s *Store) Jobs() *JobStore {
	return &JobStore{pool: s.pool, now: s.now}
}
