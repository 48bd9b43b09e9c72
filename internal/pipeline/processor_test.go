package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag-go/internal/config"
	"resumerag-go/internal/embedding"
	"resumerag-go/internal/extractor"
	"resumerag-go/internal/extractor/extractortest"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/redact"
	"resumerag-go/internal/repository"
	embeddingclient "resumerag-go/pkg/embedding"
	"resumerag-go/pkg/storage"
	"resumerag-go/pkg/tasks"
)

type harness struct {
	docs   *repository.MemoryDocumentRepository
	blobs  *storage.MemoryStore
	index  index.VectorIndex
	mem    *index.Memory
	events *Broker
	proc   *Processor
}

func newHarness(t *testing.T, chunkSize int, redactor redact.Redactor, idx index.VectorIndex) *harness {
	t.Helper()
	gen, err := embedding.New(
		config.EmbeddingConfig{Dimensions: 64, MaxConcurrency: 2, CacheSize: 64},
		config.ChunkingConfig{Size: chunkSize, Overlap: 0},
		embedding.WithClient(embeddingclient.NewHashingClient("hashing-v1", 64)),
	)
	require.NoError(t, err)

	h := &harness{
		docs:   repository.NewMemoryDocumentRepository(),
		blobs:  storage.NewMemoryStore(),
		mem:    index.NewMemory(),
		events: NewBroker(),
	}
	h.index = h.mem
	if idx != nil {
		h.index = idx
	}
	if redactor == nil {
		redactor = redact.New(&redact.PatternDetector{HeaderName: true})
	}
	ex := extractor.New(nil, extractor.Limits{MaxDecompressedBytes: 1 << 20, MaxDepth: 2, MaxEntries: 10})
	h.proc = NewProcessor(h.docs, h.blobs, ex, redactor, gen, h.index, h.events)
	return h
}

func (h *harness) upload(t *testing.T, id string, data []byte, contentType string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.blobs.Put(ctx, "raw/"+id, data, contentType))
	require.NoError(t, h.docs.UpsertDocument(ctx, &model.Document{
		ID: id, OwnerID: 1, FileName: id + ".docx", ContentType: contentType,
		ContentHash: id, ObjectKey: "raw/" + id, Stage: model.StageUploaded,
	}))
}

func drain(ch <-chan model.StageEvent) []model.StageEvent {
	var out []model.StageEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestProcess_HappyPath(t *testing.T) {
	h := newHarness(t, 40, nil, nil)
	events, unsubscribe := h.events.Subscribe(16)
	defer unsubscribe()

	h.upload(t, "d1", extractortest.DOCX(
		"Jane Doe",
		"Email: jane.doe@example.com Phone: (415) 555-0132",
		"5 years Python, Docker, AWS",
	), extractor.ContentTypeDOCX)

	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"}))

	doc, err := h.docs.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StageIndexed, doc.Stage)
	assert.Contains(t, doc.RawText, "jane.doe@example.com")
	assert.NotContains(t, doc.RedactedText, "jane.doe@example.com")
	assert.NotContains(t, doc.RedactedText, "Jane Doe")
	assert.Contains(t, doc.RedactedText, "[EMAIL]")
	assert.Contains(t, doc.RedactedText, "Python")
	assert.NotEmpty(t, doc.RedactionPolicy)
	require.NotEmpty(t, doc.Chunks)
	assert.False(t, doc.Embedding.IsZero())

	// Chunks cover the redacted text in order.
	assert.Zero(t, doc.Chunks[0].StartOffset)
	assert.Equal(t, len(doc.RedactedText), doc.Chunks[len(doc.Chunks)-1].EndOffset)

	// One vector per chunk plus the document vector.
	assert.Equal(t, len(doc.Chunks)+1, h.mem.Len())

	var stages []model.Stage
	for _, ev := range drain(events) {
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []model.Stage{model.StageExtracted, model.StageRedacted, model.StageEmbedded, model.StageIndexed}, stages)

	// Processing an indexed document again is a no-op.
	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"}))
	assert.Empty(t, drain(events))
}

func TestProcess_ExtractionFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 40, nil, nil)
	events, unsubscribe := h.events.Subscribe(16)
	defer unsubscribe()
	h.upload(t, "bad", []byte("not a docx"), extractor.ContentTypeDOCX)

	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "bad"}))

	doc, err := h.docs.GetDocument(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, doc.Stage)
	assert.Equal(t, model.StageExtracted, doc.FailedStage)
	assert.Contains(t, doc.FailureReason, "bad.docx")
	assert.Zero(t, h.mem.Len())

	evs := drain(events)
	require.Len(t, evs, 1)
	var ef *extractor.ExtractionFailed
	assert.True(t, errors.As(evs[0].Err, &ef))

	// A failed extraction is not retried.
	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "bad"}))
	assert.Empty(t, drain(events))
}

type unavailableDetector struct{}

func (unavailableDetector) Name() string { return "ner/test" }
func (unavailableDetector) Detect(context.Context, string) ([]redact.Span, error) {
	return nil, redact.ErrDetectorUnavailable
}

func TestProcess_DegradedRedactionHoldsDocument(t *testing.T) {
	h := newHarness(t, 40, redact.New(&redact.PatternDetector{}, unavailableDetector{}), nil)
	events, unsubscribe := h.events.Subscribe(16)
	defer unsubscribe()
	h.upload(t, "d1", extractortest.DOCX("jane@example.com", "Go developer"), extractor.ContentTypeDOCX)

	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"}))

	doc, err := h.docs.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StageExtracted, doc.Stage)
	assert.True(t, doc.Held)
	assert.Empty(t, doc.RedactedText, "unredacted text is never stored as redacted")
	assert.Zero(t, h.mem.Len())

	evs := drain(events)
	require.Len(t, evs, 2)
	assert.True(t, evs[1].Held)
	assert.ErrorIs(t, evs[1].Err, redact.ErrRedactionDegraded)
}

// flakyIndex fails writes while down is set.
type flakyIndex struct {
	*index.Memory
	down bool
}

func (f *flakyIndex) Upsert(ctx context.Context, id string, e model.Embedding, md index.Metadata) error {
	if f.down {
		return index.ErrIndexUnavailable
	}
	return f.Memory.Upsert(ctx, id, e, md)
}

func TestProcess_IndexUnavailableFailsAndResumes(t *testing.T) {
	idx := &flakyIndex{Memory: index.NewMemory(), down: true}
	h := newHarness(t, 40, nil, idx)
	h.upload(t, "d1", extractortest.DOCX("Go developer with Kubernetes experience"), extractor.ContentTypeDOCX)

	err := h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"})
	assert.ErrorIs(t, err, index.ErrIndexUnavailable)

	doc, _ := h.docs.GetDocument(context.Background(), "d1")
	assert.Equal(t, model.StageFailed, doc.Stage)
	assert.Equal(t, model.StageIndexed, doc.FailedStage)

	idx.down = false
	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"}))
	doc, _ = h.docs.GetDocument(context.Background(), "d1")
	assert.Equal(t, model.StageIndexed, doc.Stage)
	assert.Empty(t, doc.FailureReason)
	assert.Equal(t, len(doc.Chunks)+1, idx.Len())
}

func TestProcess_ReprocessDeletesStaleChunks(t *testing.T) {
	h := newHarness(t, 20, nil, nil)
	long := strings.Repeat("Python Docker AWS ", 8)
	h.upload(t, "d1", extractortest.DOCX(long), extractor.ContentTypeDOCX)
	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"}))

	doc, _ := h.docs.GetDocument(context.Background(), "d1")
	oldChunks := len(doc.Chunks)
	require.Greater(t, oldChunks, 2)

	// Shrink the text and re-run from Extracted: fewer chunks must leave no leftovers behind.
	doc.RawText = "Python"
	require.NoError(t, doc.Rewind(model.StageExtracted))
	require.NoError(t, h.docs.UpsertDocument(context.Background(), doc))
	require.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "d1"}))

	doc, _ = h.docs.GetDocument(context.Background(), "d1")
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, 2, h.mem.Len())
}

func TestProcess_MissingDocumentIsSkipped(t *testing.T) {
	h := newHarness(t, 40, nil, nil)
	assert.NoError(t, h.proc.Process(context.Background(), tasks.IngestTask{DocumentID: "gone"}))
}

func TestProcess_CanceledContextLeavesStage(t *testing.T) {
	h := newHarness(t, 40, nil, nil)
	h.upload(t, "d1", extractortest.DOCX("Go"), extractor.ContentTypeDOCX)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.proc.Process(ctx, tasks.IngestTask{DocumentID: "d1"})
	assert.ErrorIs(t, err, context.Canceled)
	doc, _ := h.docs.GetDocument(context.Background(), "d1")
	assert.Equal(t, model.StageUploaded, doc.Stage)
}

func TestBroker(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe(1)
	b.Publish(model.StageEvent{DocumentID: "a"})
	b.Publish(model.StageEvent{DocumentID: "b"}) // dropped, buffer full
	assert.Equal(t, "a", (<-ch).DocumentID)

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)

	ch2, _ := b.Subscribe(1)
	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)
}
