//go:build integration

package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"resumerag-go/internal/config"
)

func TestPgvector_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("resumerag"),
		postgres.WithUsername("resumerag"),
		postgres.WithPassword("resumerag"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer func() { _ = testcontainers.TerminateContainer(container) }()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	idx, err := NewPgvector(ctx, config.PgvectorConfig{DSN: dsn, Table: "resume_vectors"}, 2)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Upsert(ctx, "b", emb("v1", 1, 0), Metadata{DocumentID: "b", Kind: KindDocument}))
	require.NoError(t, idx.Upsert(ctx, "a", emb("v1", 1, 0), Metadata{DocumentID: "a", Kind: KindDocument}))
	require.NoError(t, idx.Upsert(ctx, "c", emb("v1", 0, 1), Metadata{DocumentID: "c", Kind: KindDocument}))
	require.NoError(t, idx.Upsert(ctx, "c:0", emb("v1", 0, 1), Metadata{DocumentID: "c", Kind: KindChunk, Text: "go"}))
	require.NoError(t, idx.Upsert(ctx, "old", emb("v0", 1, 0), Metadata{DocumentID: "old", Kind: KindDocument}))

	hits, err := idx.Query(ctx, emb("v1", 1, 0), 3, WithKind(KindDocument))
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-5)

	hits, err = idx.Query(ctx, emb("v1", 0, 1), 1, WithKind(KindChunk), WithDocumentIDs("c"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "go", hits[0].Metadata.Text)

	// Upsert replaces in place.
	require.NoError(t, idx.Upsert(ctx, "a", emb("v1", 0, 1), Metadata{DocumentID: "a", Kind: KindDocument}))
	require.NoError(t, idx.Delete(ctx, "b"))
	hits, err = idx.Query(ctx, emb("v1", 1, 0), 10, WithKind(KindDocument))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotEqual(t, "old", h.ID, "other model versions are never ranked")
		assert.NotEqual(t, "b", h.ID)
	}
}
