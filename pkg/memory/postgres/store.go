// Package postgres provides a PostgreSQL-backed [memory.CommandStore] using a
// pgvector column for semantic recall over past commands.
//
// The pgvector extension must be available in the target database; [NewStore]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS and creates
// the commands table on first use.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Compile-time interface assertion.
var _ memory.CommandStore = (*Store)(nil)

// Store implements memory.CommandStore on a PostgreSQL database with pgvector.
// Transcripts are embedded at save time using the configured embeddings
// provider. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection, and ensures the schema exists. The embedding column dimension is
// taken from embedder.Dimensions(); changing the embedding model after the
// first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("postgres store: embedder must not be nil")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that the embedding
	// column can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// migrate installs the pgvector extension and creates the commands table with
// an HNSW index for cosine search.
func migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS commands (
    id          BIGSERIAL    PRIMARY KEY,
    transcript  TEXT         NOT NULL,
    function    TEXT         NOT NULL DEFAULT '',
    response    TEXT         NOT NULL DEFAULT '',
    wake_word   TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d)   NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_commands_timestamp ON commands (timestamp);

CREATE INDEX IF NOT EXISTS idx_commands_embedding
    ON commands USING hnsw (embedding vector_cosine_ops);
`, dimensions)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create commands table: %w", err)
	}
	return nil
}

// Save implements memory.CommandStore.
func (s *Store) Save(ctx context.Context, rec types.CommandRecord) error {
	emb, err := s.embedder.Embed(ctx, rec.Transcript)
	if err != nil {
		return fmt.Errorf("postgres store: embed transcript: %w", err)
	}

	const q = `
		INSERT INTO commands (transcript, function, response, wake_word, embedding, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.pool.Exec(ctx, q,
		rec.Transcript,
		rec.Function,
		rec.Response,
		rec.WakeWord,
		pgvector.NewVector(emb),
		ts,
		rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save command: %w", err)
	}
	return nil
}

// Recent implements memory.CommandStore.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]types.CommandRecord, error) {
	const q = `
		SELECT transcript, function, response, wake_word, timestamp, duration_ns
		FROM   commands
		WHERE  timestamp > $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	return records, nil
}

// Search implements memory.CommandStore.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.SearchResult, error) {
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: embed query: %w", err)
	}

	const q = `
		SELECT transcript, function, response, wake_word, timestamp, duration_ns,
		       embedding <=> $1 AS distance
		FROM   commands
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(emb), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var (
			sr    memory.SearchResult
			durNs int64
		)
		if err := row.Scan(
			&sr.Record.Transcript,
			&sr.Record.Function,
			&sr.Record.Response,
			&sr.Record.WakeWord,
			&sr.Record.Timestamp,
			&durNs,
			&sr.Distance,
		); err != nil {
			return memory.SearchResult{}, err
		}
		sr.Record.Duration = time.Duration(durNs)
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// Close implements memory.CommandStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanRecord scans one commands row into a CommandRecord.
func scanRecord(row pgx.CollectableRow) (types.CommandRecord, error) {
	var (
		rec   types.CommandRecord
		durNs int64
	)
	if err := row.Scan(
		&rec.Transcript,
		&rec.Function,
		&rec.Response,
		&rec.WakeWord,
		&rec.Timestamp,
		&durNs,
	); err != nil {
		return types.CommandRecord{}, err
	}
	rec.Duration = time.Duration(durNs)
	return rec, nil
}
