package index

import (
	"context"
	"sync"

	"resumerag-go/internal/config"
	"resumerag-go/internal/model"
	"resumerag-go/pkg/es"
)

// Elasticsearch stores vectors in a dense_vector field with cosine similarity.
type Elasticsearch struct {
	client *es.Client
	// writeMu serializes upserts and deletes issued by this process.
	writeMu sync.Mutex
}

var _ VectorIndex = (*Elasticsearch)(nil)

// NewElasticsearch connects and creates the index mapping if it does not exist.
func NewElasticsearch(ctx context.Context, cfg config.ElasticsearchConfig, dims int) (*Elasticsearch, error) {
	client, err := es.NewClient(cfg)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := client.EnsureIndex(ctx, dims); err != nil {
		return nil, unavailable("ensure index", err)
	}
	return &Elasticsearch{client: client}, nil
}

// NewElasticsearchWithClient wraps an existing client without touching the mapping.
func NewElasticsearchWithClient(client *es.Client) *Elasticsearch {
	return &Elasticsearch{client: client}
}

func (e *Elasticsearch) Upsert(ctx context.Context, id string, emb model.Embedding, md Metadata) error {
	if err := validateUpsert(id, emb, md); err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	err := e.client.IndexDocument(ctx, es.VectorDocument{
		VectorID:     id,
		DocumentID:   md.DocumentID,
		Kind:         string(md.Kind),
		ChunkIndex:   md.ChunkIndex,
		TextContent:  md.Text,
		Vector:       emb.Values,
		ModelVersion: emb.ModelVersion,
	})
	if err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

func (e *Elasticsearch) Delete(ctx context.Context, ids ...string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.client.DeleteDocuments(ctx, ids); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Query filters on the model version inside the kNN search, so mismatched vectors never reach
// ranking. Elasticsearch reports (1+cos)/2; scores are mapped back to cosine and re-sorted to
// apply the id tie-break.
func (e *Elasticsearch) Query(ctx context.Context, q model.Embedding, k int, opts ...QueryOption) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	o := buildOptions(opts)
	res, err := e.client.KNNSearch(ctx, q.Values, k, es.KNNFilter{
		ModelVersion: q.ModelVersion,
		Kind:         string(o.Kind),
		DocumentIDs:  o.DocumentIDs,
	})
	if err != nil {
		return nil, unavailable("query", err)
	}

	hits := make([]Hit, 0, len(res))
	for _, h := range res {
		hits = append(hits, Hit{
			ID:    h.Source.VectorID,
			Score: 2*h.Score - 1,
			Metadata: Metadata{
				DocumentID: h.Source.DocumentID,
				Kind:       Kind(h.Source.Kind),
				ChunkIndex: h.Source.ChunkIndex,
				Text:       h.Source.TextContent,
			},
		})
	}
	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (e *Elasticsearch) Close() error {
	return nil
}
