// Package service 提供了检索、岗位匹配和文档导入的业务逻辑。
package service

import (
	"context"
	"errors"

	"resumerag-go/internal/model"
)

// ErrInvalidArgument is returned for out-of-range k/topN or empty input, before any model work.
var ErrInvalidArgument = errors.New("invalid argument")

// QueryEmbedder embeds free text into one document-level vector. *embedding.Generator implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (model.Embedding, error)
	ModelVersion(ctx context.Context) (string, error)
}
