// Package pgvector stores vectors in PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Row is one stored vector.
type Row struct {
	ID           string
	DocumentID   string
	Kind         string
	ChunkIndex   int
	TextContent  string
	Embedding    []float32
	ModelVersion string
}

// Filter restricts a nearest-neighbour search. Empty fields are not applied.
type Filter struct {
	ModelVersion string
	Kind         string
	DocumentIDs  []string
}

// ScoredRow is a search hit with cosine similarity 1 - (embedding <=> query).
type ScoredRow struct {
	Row
	Score float64
}

// Store is a thin data-access layer over one vectors table.
type Store struct {
	db    *sql.DB
	table string
}

// Open connects with lib/pq and pings the server.
func Open(ctx context.Context, cfg config.PgvectorConfig) (*Store, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", cfg.Table)
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}
	return &Store{db: db, table: cfg.Table}, nil
}

// Migrate creates the extension and table. dims is fixed per table.
func (s *Store) Migrate(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			text_content TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			model_version TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_id_idx ON %s (document_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector migrate: %w", err)
		}
	}
	log.Infof("[Pgvector] 表 '%s' 已就绪, dims: %d", s.table, dims)
	return nil
}

// Upsert inserts or replaces the row with the same id.
func (s *Store) Upsert(ctx context.Context, r Row) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, document_id, kind, chunk_index, text_content, embedding, model_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			kind = EXCLUDED.kind,
			chunk_index = EXCLUDED.chunk_index,
			text_content = EXCLUDED.text_content,
			embedding = EXCLUDED.embedding,
			model_version = EXCLUDED.model_version,
			updated_at = now()`, s.table),
		r.ID, r.DocumentID, r.Kind, r.ChunkIndex, r.TextContent, pgv.NewVector(r.Embedding), r.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("pgvector upsert: %w", err)
	}
	return nil
}

// Delete removes rows by id; unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("pgvector delete: %w", err)
	}
	return nil
}

// Nearest returns up to limit rows ordered by cosine distance, then id.
func (s *Store) Nearest(ctx context.Context, query []float32, limit int, f Filter) ([]ScoredRow, error) {
	args := []any{pgv.NewVector(query)}
	var where []string
	if f.ModelVersion != "" {
		args = append(args, f.ModelVersion)
		where = append(where, fmt.Sprintf("model_version = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(f.DocumentIDs) > 0 {
		args = append(args, pq.Array(f.DocumentIDs))
		where = append(where, fmt.Sprintf("document_id = ANY($%d)", len(args)))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT id, document_id, kind, chunk_index, text_content, model_version,
		1 - (embedding <=> $1) AS score
		FROM %s`, s.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY embedding <=> $1, id LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector nearest: %w", err)
	}
	defer rows.Close()

	var out []ScoredRow
	for rows.Next() {
		var r ScoredRow
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Kind, &r.ChunkIndex, &r.TextContent, &r.ModelVersion, &r.Score); err != nil {
			return nil, fmt.Errorf("scan nearest row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearest: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
