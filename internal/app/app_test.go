package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag-go/internal/config"
	"resumerag-go/internal/extractor"
	"resumerag-go/internal/extractor/extractortest"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/redact"
	"resumerag-go/internal/service"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// waitIndexed blocks until every id has reached a terminal stage.
func waitIndexed(t *testing.T, events <-chan model.StageEvent, ids ...string) {
	t.Helper()
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	timeout := time.After(5 * time.Second)
	for len(pending) > 0 {
		select {
		case ev := <-events:
			if pending[ev.DocumentID] && ev.Stage.Terminal() {
				require.Equal(t, model.StageIndexed, ev.Stage, "document %s: %v", ev.DocumentID, ev.Err)
				delete(pending, ev.DocumentID)
			}
		case <-timeout:
			t.Fatalf("documents not indexed in time: %v", pending)
		}
	}
}

func TestApp_EndToEnd(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	events, unsubscribe := a.Subscribe(128)
	defer unsubscribe()

	alice, err := a.Submit(ctx, service.Upload{OwnerID: 1, FileName: "alice.docx", Data: extractortest.DOCX(
		"Alice Smith", "alice@example.com", "5 years Python, Docker, AWS",
	)})
	require.NoError(t, err)
	bob, err := a.Submit(ctx, service.Upload{OwnerID: 1, FileName: "bob.docx", Data: extractortest.DOCX(
		"Bob Jones", "Java, Spring",
	)})
	require.NoError(t, err)
	waitIndexed(t, events, alice[0].ID, bob[0].ID)

	doc, err := a.Document(ctx, alice[0].ID)
	require.NoError(t, err)
	assert.NotContains(t, doc.RedactedText, "alice@example.com")

	hits, err := a.Search(ctx, "Who has experience with Python?", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, alice[0].ID, hits[0].DocumentID)

	matches, err := a.Match(ctx, "Python Developer\n- Python\n- Docker\n- React", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, alice[0].ID, matches[0].DocumentID)
	assert.Equal(t, []string{"React"}, matches[0].MissingRequirements)

	job, err := a.CreateJob(ctx, "Python Developer", "- Python\n- Docker\n- React")
	require.NoError(t, err)
	byJob, err := a.MatchJob(ctx, job.ID, 1)
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Equal(t, alice[0].ID, byJob[0].DocumentID)

	require.NoError(t, a.Delete(ctx, alice[0].ID))
	hits, err = a.Search(ctx, "Who has experience with Python?", 2)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, alice[0].ID, h.DocumentID)
	}
}

func TestApp_CoreOperations(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	out, err := a.Extract(ctx, extractortest.DOCX("Go", "Rust"), extractor.ContentTypeDOCX)
	require.NoError(t, err)
	assert.Equal(t, "Go\nRust", out.Text())

	_, err = a.Extract(ctx, []byte("x"), "text/plain")
	assert.ErrorIs(t, err, extractor.ErrUnsupportedType)

	redacted, err := a.Redact(ctx, "mail me at dev@example.com")
	require.NoError(t, err)
	assert.NotContains(t, redacted, "dev@example.com")

	docVec, chunks, err := a.Embed(ctx, "Python Docker Kubernetes", config.ChunkingConfig{Size: 10, Overlap: 2})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Len(t, docVec.Values, config.Default().Embedding.Dimensions)

	require.NoError(t, a.IndexUpsert(ctx, "x:0", chunks[0].Embedding, index.Metadata{DocumentID: "x", Kind: index.KindChunk, Text: chunks[0].Text}))
	hits, err := a.index.Query(ctx, chunks[0].Embedding, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x:0", hits[0].ID)

	require.NoError(t, a.IndexDelete(ctx, "x:0"))
	hits, err = a.index.Query(ctx, chunks[0].Embedding, 1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestApp_DegradedRedactionIsHeld(t *testing.T) {
	cfg := config.Default()
	a, err := New(context.Background(), cfg, WithRedactor(redact.New(&redact.PatternDetector{}, downDetector{})))
	require.NoError(t, err)
	defer a.Close()

	events, unsubscribe := a.Subscribe(32)
	defer unsubscribe()
	docs, err := a.Submit(context.Background(), service.Upload{OwnerID: 1, FileName: "cv.docx", Data: extractortest.DOCX("Go developer")})
	require.NoError(t, err)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.DocumentID == docs[0].ID && ev.Held {
				assert.Equal(t, model.StageExtracted, ev.Stage)
				assert.ErrorIs(t, ev.Err, redact.ErrRedactionDegraded)
				return
			}
		case <-timeout:
			t.Fatal("no hold event")
		}
	}
}

type downDetector struct{}

func (downDetector) Name() string { return "ner/down" }
func (downDetector) Detect(context.Context, string) ([]redact.Span, error) {
	return nil, redact.ErrDetectorUnavailable
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ingest.Dispatcher = "kafka"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err, "kafka needs redis for attempt counting")

	cfg = config.Default()
	cfg.Chunking.Overlap = cfg.Chunking.Size
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunWorker_LocalWaitsForCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorker(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunWorker did not return")
	}
}
