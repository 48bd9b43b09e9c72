package index

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/es"
)

// fakeES records requests and answers kNN searches with canned hits.
type fakeES struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"d2:0","_score":0.9,"_source":{"vector_id":"d2:0","document_id":"d2","kind":"chunk","chunk_index":0,"text_content":"java","model_version":"v"}},
			{"_id":"d1:3","_score":0.95,"_source":{"vector_id":"d1:3","document_id":"d1","kind":"chunk","chunk_index":3,"text_content":"python","model_version":"v"}},
			{"_id":"d0:0","_score":0.9,"_source":{"document_id":"d0","kind":"chunk","chunk_index":0,"text_content":"go","model_version":"v"}}
		]}}`))
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		_, _ = w.Write([]byte(`{"deleted":1}`))
	default:
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}
}

func newFakeESIndex(t *testing.T) (*Elasticsearch, *fakeES, func()) {
	t.Helper()
	fake := &fakeES{}
	srv := httptest.NewServer(fake)
	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "resume_vectors"})
	require.NoError(t, err)
	return NewElasticsearchWithClient(client), fake, srv.Close
}

func TestElasticsearch_Query(t *testing.T) {
	idx, fake, done := newFakeESIndex(t)
	defer done()

	hits, err := idx.Query(context.Background(), emb("v", 1, 0), 2, WithKind(KindChunk), WithDocumentIDs("d1", "d2"))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1:3", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9, "score mapped from (1+cos)/2 back to cosine")
	assert.Equal(t, "d0:0", hits[1].ID, "equal scores tie-break by id; id falls back to _id")
	assert.Equal(t, 3, hits[0].Metadata.ChunkIndex)
	assert.Equal(t, "python", hits[0].Metadata.Text)

	require.Len(t, fake.bodies, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(fake.bodies[0]), &body))
	knn := body["knn"].(map[string]any)
	assert.Equal(t, "vector", knn["field"])
	assert.EqualValues(t, 2, knn["k"])
	filter, _ := json.Marshal(knn["filter"])
	assert.Contains(t, string(filter), `"model_version":"v"`)
	assert.Contains(t, string(filter), `"kind":"chunk"`)
	assert.Contains(t, string(filter), `"document_id":["d1","d2"]`)
}

func TestElasticsearch_UpsertAndDelete(t *testing.T) {
	idx, fake, done := newFakeESIndex(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "d1:0", emb("v", 1, 0), Metadata{DocumentID: "d1", Kind: KindChunk, Text: "python"}))
	require.NoError(t, idx.Delete(ctx, "d1:0", "d1:1"))

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "PUT /resume_vectors/_doc/d1:0", fake.requests[0])
	assert.Contains(t, fake.bodies[0], `"model_version":"v"`)
	assert.Equal(t, "POST /resume_vectors/_delete_by_query", fake.requests[1])
	assert.Contains(t, fake.bodies[1], `"values":["d1:0","d1:1"]`)
}

func TestElasticsearch_Unavailable(t *testing.T) {
	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: "http://127.0.0.1:1", IndexName: "x"})
	require.NoError(t, err)
	idx := NewElasticsearchWithClient(client)
	_, err = idx.Query(context.Background(), emb("v", 1, 0), 1)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}
