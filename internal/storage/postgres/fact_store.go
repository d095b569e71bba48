// Package postgres stores triples in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FactStoreConfig controls the Postgres connection pool used for triples.
type FactStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FactStore implements crawler.FactStore.
type FactStore struct {
	pool  execCloser
	table string
}

// NewFactStore connects a pool using the provided config.
func NewFactStore(ctx context.Context, cfg FactStoreConfig) (*FactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("factstore.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewFactStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewFactStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFactStoreWithPool(pool execCloser, table string) (*FactStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "triples"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FactStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the triples table when it does not exist.
func (s *FactStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	subject     text NOT NULL,
	predicate   text NOT NULL,
	object      text NOT NULL,
	inserted_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (subject, predicate, object)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// PutTriples inserts the batch in one statement. Triples already present are
// skipped.
func (s *FactStore) PutTriples(ctx context.Context, triples []crawler.Triple) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("fact store is not configured")
	}
	if len(triples) == 0 {
		return nil
	}
	subjects := make([]string, len(triples))
	predicates := make([]string, len(triples))
	objects := make([]string, len(triples))
	for i, t := range triples {
		subjects[i], predicates[i], objects[i] = t.Subject, t.Predicate, t.Object
	}
	query := fmt.Sprintf(`
INSERT INTO %s (subject, predicate, object)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
ON CONFLICT DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, subjects, predicates, objects); err != nil {
		return fmt.Errorf("insert triples: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *FactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
