package index

import (
	"context"
	"sync"

	"resumerag-go/internal/config"
	"resumerag-go/internal/model"
	"resumerag-go/pkg/pgvector"
)

// Pgvector stores vectors in PostgreSQL and ranks by cosine distance.
type Pgvector struct {
	store   *pgvector.Store
	writeMu sync.Mutex
}

var _ VectorIndex = (*Pgvector)(nil)

// NewPgvector connects and migrates the vectors table.
func NewPgvector(ctx context.Context, cfg config.PgvectorConfig, dims int) (*Pgvector, error) {
	store, err := pgvector.Open(ctx, cfg)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := store.Migrate(ctx, dims); err != nil {
		store.Close()
		return nil, unavailable("migrate", err)
	}
	return &Pgvector{store: store}, nil
}

func (p *Pgvector) Upsert(ctx context.Context, id string, e model.Embedding, md Metadata) error {
	if err := validateUpsert(id, e, md); err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	err := p.store.Upsert(ctx, pgvector.Row{
		ID:           id,
		DocumentID:   md.DocumentID,
		Kind:         string(md.Kind),
		ChunkIndex:   md.ChunkIndex,
		TextContent:  md.Text,
		Embedding:    e.Values,
		ModelVersion: e.ModelVersion,
	})
	if err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

func (p *Pgvector) Delete(ctx context.Context, ids ...string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.store.Delete(ctx, ids); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (p *Pgvector) Query(ctx context.Context, q model.Embedding, k int, opts ...QueryOption) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	o := buildOptions(opts)
	rows, err := p.store.Nearest(ctx, q.Values, k, pgvector.Filter{
		ModelVersion: q.ModelVersion,
		Kind:         string(o.Kind),
		DocumentIDs:  o.DocumentIDs,
	})
	if err != nil {
		return nil, unavailable("query", err)
	}
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			ID:    r.ID,
			Score: r.Score,
			Metadata: Metadata{
				DocumentID: r.DocumentID,
				Kind:       Kind(r.Kind),
				ChunkIndex: r.ChunkIndex,
				Text:       r.TextContent,
			},
		})
	}
	SortHits(hits)
	return hits, nil
}

func (p *Pgvector) Close() error {
	return p.store.Close()
}
