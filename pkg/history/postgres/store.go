// Package postgres provides the PostgreSQL-backed conversation archive.
//
// All operations share a single [pgxpool.Pool]. The pgvector extension must
// be available in the target database; [Migrate] installs it automatically
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, sessionID, entry, embedding)
//	recent, _ := store.Recent(ctx, sessionID, 20)
//	hits, _ := store.Search(ctx, history.Query{SessionID: sessionID, Embedding: vec, TopK: 5})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/antiphonlabs/antiphon/pkg/history"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL-backed conversation archive. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the schema exists.
//
// embeddingDimensions must match the output dimension of the embedding model
// used by the Recaller (e.g., 1536 for OpenAI text-embedding-3-small).
// Changing this value after the first migration requires a manual schema
// change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector
	// columns can be scanned into and inserted from pgvector.Vector values.
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

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, sessionID string, entry types.TranscriptEntry, embedding []float32) error {
	const q = `
		INSERT INTO transcript_entries
		    (session_id, speaker, text, turn_id, segment_index, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	_, err := s.pool.Exec(ctx, q,
		sessionID,
		string(entry.Speaker),
		entry.Text,
		int64(entry.TurnID),
		entry.SegmentIndex,
		vec,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// Recent implements history.Store. The newest limit entries are returned in
// chronological order.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]types.TranscriptEntry, error) {
	const q = `
		SELECT speaker, text, turn_id, segment_index, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var (
			e       types.TranscriptEntry
			speaker string
			turnID  int64
		)
		if err := row.Scan(&speaker, &e.Text, &turnID, &e.SegmentIndex, &e.Timestamp); err != nil {
			return types.TranscriptEntry{}, err
		}
		e.Speaker = types.Speaker(speaker)
		e.TurnID = uint64(turnID)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}

	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Search implements history.Store. Results are ordered by ascending cosine
// distance (most similar first). Entries without an embedding never match.
func (s *Store) Search(ctx context.Context, q history.Query) ([]history.Result, error) {
	queryVec := pgvector.NewVector(q.Embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := "embedding IS NOT NULL"
	if q.SessionID != "" {
		conditions += "\n  AND session_id = " + next(q.SessionID)
	}
	if !q.Before.IsZero() {
		conditions += "\n  AND timestamp < " + next(q.Before)
	}

	args = append(args, q.TopK)
	limitArg := fmt.Sprintf("$%d", len(args))

	sql := fmt.Sprintf(`
		SELECT id, session_id, speaker, text, turn_id, segment_index, timestamp,
		       embedding <=> $1 AS distance
		FROM   transcript_entries
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, conditions, limitArg)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Result, error) {
		var (
			res     history.Result
			speaker string
			turnID  int64
		)
		if err := row.Scan(
			&res.Record.ID,
			&res.Record.SessionID,
			&speaker,
			&res.Record.Entry.Text,
			&turnID,
			&res.Record.Entry.SegmentIndex,
			&res.Record.Entry.Timestamp,
			&res.Distance,
		); err != nil {
			return history.Result{}, err
		}
		res.Record.Entry.Speaker = types.Speaker(speaker)
		res.Record.Entry.TurnID = uint64(turnID)
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []history.Result{}
	}
	return results, nil
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
