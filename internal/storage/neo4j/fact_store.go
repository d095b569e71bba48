// Package neo4j stores triples as a property graph. Triples whose object is
// another node (authorship, mentions) become relationships between Resource
// nodes; every other triple links its subject to a Value node.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

const (
	relationQuery = "UNWIND $rows AS row " +
		"MERGE (s:Resource {urn: row.s}) " +
		"MERGE (o:Resource {urn: row.o}) " +
		"MERGE (s)-[:RELATES {predicate: row.p}]->(o)"
	attributeQuery = "UNWIND $rows AS row " +
		"MERGE (s:Resource {urn: row.s}) " +
		"MERGE (v:Value {value: row.o}) " +
		"MERGE (s)-[:HAS {predicate: row.p}]->(v)"
)

// relational predicates point at another Resource.
var relational = map[string]bool{
	"from_user":       true,
	"to_user":         true,
	"has_post":        true,
	"is_mentioned_by": true,
}

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

type txRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

type driverAdapter struct {
	driver neo4j.DriverWithContext
}

func (d *driverAdapter) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *driverAdapter) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Config holds connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

// FactStore implements crawler.FactStore.
type FactStore struct {
	driver   DriverSessioner
	database string
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config) (*FactStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("factstore.neo4j.uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return NewWithDriver(&driverAdapter{driver: driver}, cfg.Database), nil
}

// NewWithDriver builds a store around an existing driver (tests).
func NewWithDriver(driver DriverSessioner, database string) *FactStore {
	return &FactStore{driver: driver, database: database}
}

// PutTriples writes the batch in one write transaction.
func (s *FactStore) PutTriples(ctx context.Context, triples []crawler.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	relations, attributes := splitRows(triples)
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, writeRows(ctx, tx, relations, attributes)
	})
	if err != nil {
		return fmt.Errorf("write triples: %w", err)
	}
	return nil
}

// Close releases the driver.
func (s *FactStore) Close(ctx context.Context) error {
	if err := s.driver.Close(ctx); err != nil {
		return fmt.Errorf("close neo4j driver: %w", err)
	}
	return nil
}

func splitRows(triples []crawler.Triple) (relations, attributes []map[string]any) {
	for _, t := range triples {
		row := map[string]any{"s": t.Subject, "p": t.Predicate, "o": t.Object}
		if relational[t.Predicate] {
			relations = append(relations, row)
		} else {
			attributes = append(attributes, row)
		}
	}
	return relations, attributes
}

func writeRows(ctx context.Context, tx txRunner, relations, attributes []map[string]any) error {
	if len(attributes) > 0 {
		if _, err := tx.Run(ctx, attributeQuery, map[string]any{"rows": attributes}); err != nil {
			return fmt.Errorf("merge attributes: %w", err)
		}
	}
	if len(relations) > 0 {
		if _, err := tx.Run(ctx, relationQuery, map[string]any{"rows": relations}); err != nil {
			return fmt.Errorf("merge relations: %w", err)
		}
	}
	return nil
}
