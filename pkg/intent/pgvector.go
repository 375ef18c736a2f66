package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PGVectorIndex keeps catalog embeddings in PostgreSQL behind an HNSW
// cosine index. Rows are namespaced by catalog fingerprint.
type PGVectorIndex struct {
	pool      *pgxpool.Pool
	namespace string

	mu    sync.Mutex
	ready map[int]bool // dimensions whose table exists
}

// NewPGVectorIndex connects to pgURL and verifies the connection.
func NewPGVectorIndex(ctx context.Context, pgURL, namespace string) (*PGVectorIndex, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	return &PGVectorIndex{pool: pool, namespace: namespace, ready: make(map[int]bool)}, nil
}

// Close closes the connection pool.
func (x *PGVectorIndex) Close() {
	x.pool.Close()
}

func table(dim int) string {
	return fmt.Sprintf("intent_embeddings_%d", dim)
}

// HNSW needs a fixed dimension, so each width gets its own table.
func (x *PGVectorIndex) ensureTable(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready[dim] {
		return nil
	}

	_, err := x.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace  TEXT NOT NULL,
			command_id TEXT NOT NULL,
			position   INTEGER NOT NULL,
			embedding  vector(%d) NOT NULL,
			PRIMARY KEY (namespace, command_id)
		)
	`, table(dim), dim))
	if err != nil {
		return fmt.Errorf("create embeddings table: %w", err)
	}

	_, err = x.pool.Exec(ctx, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_hnsw
		ON %s
		USING hnsw (embedding vector_cosine_ops)
		WITH (m = 16, ef_construction = 64)
	`, table(dim), table(dim)))
	if err != nil {
		return fmt.Errorf("create HNSW index: %w", err)
	}

	x.ready[dim] = true
	slog.Info("intent index initialized", "table", table(dim))
	return nil
}

// Add replaces the namespace's rows with entries in one transaction.
func (x *PGVectorIndex) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Vector)
	for _, e := range entries {
		if len(e.Vector) != dim || dim == 0 {
			return fmt.Errorf("entry %q has dimension %d, want %d", e.ID, len(e.Vector), dim)
		}
	}
	if err := x.ensureTable(ctx, dim); err != nil {
		return err
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (namespace, command_id, position, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, command_id) DO UPDATE
			SET position = EXCLUDED.position,
				embedding = EXCLUDED.embedding
		`, table(dim)), x.namespace, e.ID, e.Position, pgvector.NewVector(e.Vector))
		if err != nil {
			return fmt.Errorf("insert embedding %q: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// Nearest returns the closest command by cosine distance, then catalog
// position.
func (x *PGVectorIndex) Nearest(ctx context.Context, query []float32) (Match, error) {
	x.mu.Lock()
	ok := x.ready[len(query)]
	x.mu.Unlock()
	if !ok {
		return Match{}, ErrEmptyIndex
	}

	var (
		m        Match
		distance float64
	)
	err := x.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT command_id, embedding <=> $1 AS distance
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1, position
		LIMIT 1
	`, table(len(query))), pgvector.NewVector(query), x.namespace).Scan(&m.ID, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, ErrEmptyIndex
	}
	if err != nil {
		return Match{}, fmt.Errorf("vector search: %w", err)
	}
	m.Score = 1 - distance
	return m, nil
}
