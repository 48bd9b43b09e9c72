package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag-go/internal/model"
)

func TestMemoryDocumentRepository_UpsertReplacesChunks(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDocumentRepository()

	doc := &model.Document{ID: "d1", OwnerID: 1, ContentHash: "h", Stage: model.StageEmbedded}
	doc.Chunks = []model.Chunk{{ChunkIndex: 1, TextContent: "b"}, {ChunkIndex: 0, TextContent: "a"}}
	require.NoError(t, repo.UpsertDocument(ctx, doc))
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := repo.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got.Chunks, 2)
	assert.Equal(t, "a", got.Chunks[0].TextContent)
	assert.Equal(t, "d1", got.Chunks[0].DocumentID)

	doc.Chunks = []model.Chunk{{ChunkIndex: 0, TextContent: "only"}}
	require.NoError(t, repo.UpsertDocument(ctx, doc))
	got, err = repo.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, "only", got.Chunks[0].TextContent)

	// Mutating the returned copy does not touch the store.
	got.Chunks[0].TextContent = "changed"
	again, _ := repo.GetDocument(ctx, "d1")
	assert.Equal(t, "only", again.Chunks[0].TextContent)
}

func TestMemoryDocumentRepository_Queries(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryDocumentRepository()
	require.NoError(t, repo.UpsertDocument(ctx, &model.Document{ID: "b", OwnerID: 1, ContentHash: "h1", Stage: model.StageIndexed}))
	require.NoError(t, repo.UpsertDocument(ctx, &model.Document{ID: "a", OwnerID: 1, ContentHash: "h2", Stage: model.StageIndexed}))
	require.NoError(t, repo.UpsertDocument(ctx, &model.Document{ID: "c", OwnerID: 2, ContentHash: "h1", Stage: model.StageRedacted}))
	require.NoError(t, repo.UpsertDocument(ctx, &model.Document{ID: "f", OwnerID: 2, ContentHash: "h3", Stage: model.StageFailed}))

	indexed, err := repo.ListIndexedDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, indexed, 2)
	assert.Equal(t, "a", indexed[0].ID)
	assert.Equal(t, "b", indexed[1].ID)

	found, err := repo.FindByContentHash(ctx, 2, "h1")
	require.NoError(t, err)
	assert.Equal(t, "c", found.ID)

	_, err = repo.FindByContentHash(ctx, 2, "h3")
	assert.ErrorIs(t, err, ErrNotFound, "failed documents are not reused")

	docs, err := repo.FindDocuments(ctx, []string{"a", "missing", "c"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	owned, err := repo.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "a", owned[0].ID, "newest first")

	require.NoError(t, repo.DeleteDocument(ctx, "a"))
	assert.ErrorIs(t, repo.DeleteDocument(ctx, "a"), ErrNotFound)
	_, err = repo.GetDocument(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryJobRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	job := &model.JobDescription{ID: "j1", Title: "Python Developer"}
	job.SetRequirements([]string{"Python", "Docker"})
	require.NoError(t, repo.CreateJob(ctx, job))
	require.NoError(t, repo.CreateJob(ctx, &model.JobDescription{ID: "j2", Title: "Java"}))

	got, err := repo.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Python", "Docker"}, got.Requirements())

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)

	_, err = repo.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
