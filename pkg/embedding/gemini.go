package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiClient embeds text with a Gemini embedding model.
type GeminiClient struct {
	client     *genai.Client
	model      string
	dimensions int
}

func NewGeminiClient(ctx context.Context, cfg config.EmbeddingConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedding: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model, dimensions: cfg.Dimensions}, nil
}

func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	log.Debugf("[EmbeddingClient] 调用 Gemini Embedding API, model: %s, batch: %d", c.model, len(texts))

	em := c.client.EmbeddingModel(c.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", err)
	}

	out := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: nil embedding", ErrUnexpectedResponse)
		}
		out = append(out, e.Values)
	}
	if err := checkBatch(texts, out, c.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GeminiClient) ModelVersion() string {
	return modelVersion("gemini", c.model, c.dimensions)
}

func (c *GeminiClient) Dimensions() int {
	return c.dimensions
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}
