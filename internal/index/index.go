// Package index stores version-tagged vectors and answers nearest-neighbour queries.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"resumerag-go/internal/config"
	"resumerag-go/internal/model"
)

// ErrIndexUnavailable wraps backend failures. Callers retry with backoff; the index never
// retries writes itself.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Kind separates chunk vectors from document-level vectors.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindDocument Kind = "document"
)

// Metadata travels with each vector.
type Metadata struct {
	DocumentID string
	Kind       Kind
	ChunkIndex int
	Text       string
}

// Hit is a query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// QueryOptions narrows a query.
type QueryOptions struct {
	Kind        Kind
	DocumentIDs []string
}

type QueryOption func(*QueryOptions)

// WithKind restricts results to one vector kind.
func WithKind(k Kind) QueryOption {
	return func(o *QueryOptions) { o.Kind = k }
}

// WithDocumentIDs restricts results to vectors of the given documents.
func WithDocumentIDs(ids ...string) QueryOption {
	return func(o *QueryOptions) { o.DocumentIDs = ids }
}

func buildOptions(opts []QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// VectorIndex is implemented by the memory, Elasticsearch and pgvector backends.
//
// Writes are serialized relative to each other; queries may run concurrently with writes and
// always see whole entries. Query only compares vectors whose model version equals the query's;
// others are excluded rather than scored. Results are ordered by score descending, then id.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, embedding model.Embedding, md Metadata) error
	Delete(ctx context.Context, ids ...string) error
	Query(ctx context.Context, query model.Embedding, k int, opts ...QueryOption) ([]Hit, error)
	Close() error
}

// SortHits orders hits by score descending with ties broken by ascending id.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func validateUpsert(id string, e model.Embedding, md Metadata) error {
	if id == "" {
		return errors.New("index: empty id")
	}
	if e.IsZero() || e.ModelVersion == "" {
		return errors.New("index: embedding must carry values and a model version")
	}
	if md.Kind != KindChunk && md.Kind != KindDocument {
		return fmt.Errorf("index: unknown kind %q", md.Kind)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIndexUnavailable, op, err)
}

// New builds the backend named in the config. dims is used to create Elasticsearch mappings and
// pgvector tables.
func New(ctx context.Context, cfg config.Config, dims int) (VectorIndex, error) {
	switch cfg.Index.Backend {
	case "memory", "":
		return NewMemory(), nil
	case "elasticsearch":
		return NewElasticsearch(ctx, cfg.Elasticsearch, dims)
	case "pgvector":
		return NewPgvector(ctx, cfg.Pgvector, dims)
	}
	return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
}
