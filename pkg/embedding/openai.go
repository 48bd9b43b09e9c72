package embedding

import (
	"context"
	"fmt"
	"sort"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
)

// OpenAIClient calls an OpenAI-compatible embeddings endpoint through the official SDK.
type OpenAIClient struct {
	sdk        openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAIClient creates the client. BaseURL selects a compatible provider when set.
func NewOpenAIClient(cfg config.EmbeddingConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedding: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIClient{
		sdk:        openaisdk.NewClient(opts...),
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	log.Debugf("[EmbeddingClient] 调用 OpenAI Embedding API, model: %s, batch: %d", c.model, len(texts))

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:      openaisdk.EmbeddingModel(c.model),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[i] = v
	}
	if err := checkBatch(texts, out, c.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenAIClient) ModelVersion() string {
	return modelVersion("openai", c.model, c.dimensions)
}

func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

func (c *OpenAIClient) Close() error {
	return nil
}
