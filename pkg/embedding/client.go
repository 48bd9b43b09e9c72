// Package embedding provides clients for embedding models.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"resumerag-go/internal/config"
)

var (
	// ErrEmptyInput is returned when Embed is called without any text.
	ErrEmptyInput = errors.New("embedding: input is empty")
	// ErrUnexpectedResponse is returned when the model answers with the wrong number or size of vectors.
	ErrUnexpectedResponse = errors.New("embedding: unexpected response")
)

// Client is an embedding model. Implementations are safe for concurrent use.
type Client interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelVersion tags every vector the client produces. Vectors with different tags are not comparable.
	ModelVersion() string
	Dimensions() int
	Close() error
}

// NewClient creates a client for the provider named in the config.
func NewClient(ctx context.Context, cfg config.EmbeddingConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg)
	case "gemini":
		return NewGeminiClient(ctx, cfg)
	case "hashing", "":
		return NewHashingClient(cfg.Model, cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func modelVersion(provider, model string, dims int) string {
	return fmt.Sprintf("%s:%s@%d", provider, model, dims)
}

func checkBatch(texts []string, vectors [][]float32, dims int) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: %d vectors for %d inputs", ErrUnexpectedResponse, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrUnexpectedResponse, i, len(v), dims)
		}
	}
	return nil
}
