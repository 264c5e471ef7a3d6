package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/guidecam/internal/corpus"
	"github.com/andresmejia3/guidecam/internal/search"
	"github.com/andresmejia3/guidecam/internal/types"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection and pgvector operations. It
// implements corpus.Persister and corpus.NearestSearcher.
type Store struct {
	conn *pgx.Conn
}

var (
	_ corpus.Persister       = (*Store)(nil)
	_ corpus.NearestSearcher = (*Store)(nil)
)

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the feature table and vector extension if they don't exist.
// The vector column is left unsized; one dimension per corpus is enforced in Go.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS guide_features (
			seq BIGSERIAL PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			embedding VECTOR NOT NULL,
			added_at TIMESTAMPTZ DEFAULT NOW()
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Load returns every record in insertion order.
func (s *Store) Load(ctx context.Context) ([]corpus.Record, error) {
	rows, err := s.conn.Query(ctx, "SELECT identifier, embedding::text FROM guide_features ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []corpus.Record
	for rows.Next() {
		var id, vecStr string
		if err := rows.Scan(&id, &vecStr); err != nil {
			return nil, err
		}
		vec, err := parseVector(vecStr)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		recs = append(recs, corpus.Record{Vector: vec, ID: id})
	}
	return recs, rows.Err()
}

// Append inserts a single record.
func (s *Store) Append(ctx context.Context, rec corpus.Record) error {
	_, err := s.conn.Exec(ctx,
		"INSERT INTO guide_features (identifier, embedding) VALUES ($1, $2::vector)",
		rec.ID, vecToString(rec.Vector))
	return err
}

// Replace deletes all records and inserts recs in one transaction.
func (s *Store) Replace(ctx context.Context, recs []corpus.Record) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// RESTART IDENTITY keeps seq aligned with the new snapshot order.
	if _, err := tx.Exec(ctx, "TRUNCATE guide_features RESTART IDENTITY"); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue("INSERT INTO guide_features (identifier, embedding) VALUES ($1, $2::vector)", r.ID, vecToString(r.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Clear drops every record.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "TRUNCATE guide_features RESTART IDENTITY")
	return err
}

// Nearest ranks stored vectors by cosine distance to query. Ties are broken
// by insertion order, matching search.Search on the loaded snapshot.
func (s *Store) Nearest(ctx context.Context, query types.FeatureVector, k int) ([]search.Result, error) {
	// <=> is the cosine distance operator in pgvector. It yields NaN for a
	// zero vector, which search.CosineDist reports as 1.0.
	rows, err := s.conn.Query(ctx, `
		SELECT idx, identifier,
		       CASE WHEN raw = 'NaN'::float8 THEN 1.0 ELSE raw END AS dist
		FROM (
			SELECT ROW_NUMBER() OVER (ORDER BY seq) - 1 AS idx,
			       seq, identifier, (embedding <=> $1::vector)::float8 AS raw
			FROM guide_features
		) ranked
		ORDER BY dist ASC, seq ASC
		LIMIT $2
	`, vecToString(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []search.Result{}
	for rows.Next() {
		var r search.Result
		var idx int64
		if err := rows.Scan(&idx, &r.ID, &r.Distance); err != nil {
			return nil, err
		}
		r.Index = int(idx)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS guide_features CASCADE")
	return err
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads pgvector's text output back into a feature vector.
func parseVector(s string) (types.FeatureVector, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, errors.New("empty vector")
	}
	parts := strings.Split(s, ",")
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return types.NewFeatureVector(vals)
}
