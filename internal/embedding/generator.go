// Package embedding turns text into L2-normalized, version-tagged vectors. Long text is split into
// overlapping chunks; the document vector is the re-normalized mean of the chunk vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"resumerag-go/internal/config"
	"resumerag-go/internal/model"
	embeddingclient "resumerag-go/pkg/embedding"
	"resumerag-go/pkg/log"
)

var (
	// ErrEmbeddingFailed wraps model inference errors.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("embedding generator closed")
)

// ClientFactory creates the model client on first use.
type ClientFactory func(ctx context.Context) (embeddingclient.Client, error)

// ChunkVector is the embedding of one chunk of the input text.
type ChunkVector struct {
	Piece
	Embedding model.Embedding
}

// Result holds the document-level vector and the chunk vectors it was derived from.
type Result struct {
	Document model.Embedding
	Chunks   []ChunkVector
}

// Generator is a process-wide, lazily initialized embedding service. It is safe for concurrent
// use; model calls are bounded by a semaphore and an optional rate limit.
type Generator struct {
	factory  ClientFactory
	chunking config.ChunkingConfig

	initMu sync.Mutex
	client embeddingclient.Client
	closed bool

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	workers int
	cache   *vectorCache
}

// Option configures a Generator.
type Option func(*Generator)

// WithClient uses an already constructed client instead of the config-driven factory.
func WithClient(c embeddingclient.Client) Option {
	return func(g *Generator) {
		g.factory = func(context.Context) (embeddingclient.Client, error) { return c, nil }
	}
}

// WithClientFactory overrides how the client is created.
func WithClientFactory(f ClientFactory) Option {
	return func(g *Generator) {
		g.factory = f
	}
}

// WithRemoteCache adds a shared cache layer behind the in-process LRU.
func WithRemoteCache(c RemoteCache) Option {
	return func(g *Generator) {
		if c != nil {
			g.cache.remote = c
		}
	}
}

// New creates a Generator. The model client is not created until the first call that needs it.
func New(cfg config.EmbeddingConfig, chunking config.ChunkingConfig, opts ...Option) (*Generator, error) {
	cache, err := newVectorCache(cfg.CacheSize, nil)
	if err != nil {
		return nil, err
	}
	workers := cfg.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	g := &Generator{
		factory: func(ctx context.Context) (embeddingclient.Client, error) {
			return embeddingclient.NewClient(ctx, cfg)
		},
		chunking: chunking,
		sem:      semaphore.NewWeighted(int64(workers)),
		workers:  workers,
		cache:    cache,
	}
	if cfg.RatePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// clientFor initializes the model client once. A failed initialization is not cached, the next
// call retries.
func (g *Generator) clientFor(ctx context.Context) (embeddingclient.Client, error) {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	if g.client != nil {
		return g.client, nil
	}
	c, err := g.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: init model: %v", ErrEmbeddingFailed, err)
	}
	log.Infof("[EmbeddingGenerator] 模型初始化完成, version: %s, dimensions: %d", c.ModelVersion(), c.Dimensions())
	g.client = c
	return c, nil
}

// ModelVersion returns the version tag of the configured model, initializing it if needed.
func (g *Generator) ModelVersion(ctx context.Context) (string, error) {
	c, err := g.clientFor(ctx)
	if err != nil {
		return "", err
	}
	return c.ModelVersion(), nil
}

// Embed chunks text with the given window and embeds every chunk. Chunk vectors are content
// addressed, so identical text under the same model is served from cache bit-for-bit.
func (g *Generator) Embed(ctx context.Context, text string, chunking config.ChunkingConfig) (*Result, error) {
	pieces := Split(text, chunking.Size, chunking.Overlap)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: empty text", ErrEmbeddingFailed)
	}
	c, err := g.clientFor(ctx)
	if err != nil {
		return nil, err
	}

	chunks := make([]ChunkVector, len(pieces))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, p := range pieces {
		eg.Go(func() error {
			vec, err := g.embedOne(egCtx, c, p.Text)
			if err != nil {
				return err
			}
			chunks[i] = ChunkVector{Piece: p, Embedding: vec}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	vectors := make([]model.Embedding, len(chunks))
	for i, cv := range chunks {
		vectors[i] = cv.Embedding
	}
	doc, err := model.Mean(vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate: %v", ErrEmbeddingFailed, err)
	}
	return &Result{Document: doc, Chunks: chunks}, nil
}

// EmbedDocument embeds text with the configured chunking window.
func (g *Generator) EmbedDocument(ctx context.Context, text string) (*Result, error) {
	return g.Embed(ctx, text, g.chunking)
}

// EmbedQuery returns one vector comparable with document vectors. Text longer than one window
// gets the document-level aggregate.
func (g *Generator) EmbedQuery(ctx context.Context, text string) (model.Embedding, error) {
	res, err := g.EmbedDocument(ctx, text)
	if err != nil {
		return model.Embedding{}, err
	}
	return res.Document, nil
}

func (g *Generator) embedOne(ctx context.Context, c embeddingclient.Client, text string) (model.Embedding, error) {
	normalized := NormalizeText(text)
	if normalized == "" {
		return model.Embedding{}, fmt.Errorf("%w: empty chunk", ErrEmbeddingFailed)
	}
	version := c.ModelVersion()
	key := CacheKey(normalized, version)

	vec, _, err := g.cache.get(ctx, key, func(ctx context.Context) ([]float32, error) {
		return g.infer(ctx, c, normalized)
	})
	if err != nil {
		return model.Embedding{}, err
	}
	return model.Embedding{Values: vec, ModelVersion: version}, nil
}

// infer runs one model call inside the bounded work queue.
func (g *Generator) infer(ctx context.Context, c embeddingclient.Client, text string) ([]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	out, err := c.Embed(ctx, []string{text})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Errorf("[EmbeddingGenerator] 模型调用失败, error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(out) != 1 || len(out[0]) != c.Dimensions() {
		return nil, fmt.Errorf("%w: unexpected model output shape", ErrEmbeddingFailed)
	}

	vec := out[0]
	model.NormalizeL2(vec)
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero vector", ErrEmbeddingFailed)
	}
	return vec, nil
}

// CacheLen reports the number of vectors held in process.
func (g *Generator) CacheLen() int {
	return g.cache.len()
}

// Close releases the model client. Later calls fail with ErrClosed.
func (g *Generator) Close() error {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
