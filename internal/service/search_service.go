package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"resumerag-go/internal/config"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/repository"
	"resumerag-go/pkg/log"
)

// SearchService 接口定义了语义检索操作。
type SearchService interface {
	Search(ctx context.Context, query string, k int) ([]model.SearchResult, error)
}

type searchService struct {
	embedder QueryEmbedder
	index    index.VectorIndex
	docs     repository.DocumentRepository
	cfg      config.QueryConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder QueryEmbedder, idx index.VectorIndex, docs repository.DocumentRepository, cfg config.QueryConfig) SearchService {
	return &searchService{embedder: embedder, index: idx, docs: docs, cfg: cfg}
}

// Search 返回与问题最相关的至多 k 个文档，每个文档取得分最高的分块作为摘要。
//
// 索引按分块检索，先放大召回窗口（k × oversample），不足 k 个可见文档时窗口翻倍，直到索引耗尽。
func (s *searchService) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	if k < 1 || k > s.cfg.MaxK {
		return nil, fmt.Errorf("%w: k must be in [1, %d], got %d", ErrInvalidArgument, s.cfg.MaxK, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	log.Infof("[SearchService] 开始检索, query: '%s', k: %d", query, k)

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, err
	}

	oversample := s.cfg.Oversample
	if oversample < 1 {
		oversample = 1
	}
	fetch := k * oversample
	for {
		hits, err := s.index.Query(ctx, queryVector, fetch, index.WithKind(index.KindChunk))
		if err != nil {
			log.Errorf("[SearchService] 向量检索失败: %v", err)
			return nil, err
		}

		results, err := s.collapse(ctx, hits)
		if err != nil {
			return nil, err
		}
		// 最后一个命中已低于阈值时，扩大窗口也不会带来新结果
		exhausted := len(hits) < fetch || hits[len(hits)-1].Score < s.cfg.MinScore
		if len(results) >= k || exhausted {
			if len(results) > k {
				results = results[:k]
			}
			log.Infof("[SearchService] 检索完成, 召回分块: %d, 返回文档: %d", len(hits), len(results))
			return results, nil
		}
		fetch *= 2
		log.Debugf("[SearchService] 可见文档不足 %d 个, 扩大召回窗口到 %d", k, fetch)
	}
}

// collapse keeps the best chunk of every Indexed document above the score floor.
func (s *searchService) collapse(ctx context.Context, hits []index.Hit) ([]model.SearchResult, error) {
	best := make(map[string]index.Hit)
	var order []string
	for _, h := range hits {
		if h.Score < s.cfg.MinScore {
			continue
		}
		id := h.Metadata.DocumentID
		prev, seen := best[id]
		if !seen {
			order = append(order, id)
		}
		if !seen || h.Score > prev.Score || (h.Score == prev.Score && h.ID < prev.ID) {
			best[id] = h
		}
	}
	if len(order) == 0 {
		return nil, nil
	}

	docs, err := s.docs.FindDocuments(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("读取文档记录失败: %w", err)
	}
	fileNames := make(map[string]string, len(docs))
	for _, d := range docs {
		if d.Indexed() {
			fileNames[d.ID] = d.FileName
		}
	}

	results := make([]model.SearchResult, 0, len(fileNames))
	for _, id := range order {
		name, ok := fileNames[id]
		if !ok {
			continue
		}
		h := best[id]
		results = append(results, model.SearchResult{
			DocumentID: id,
			FileName:   name,
			ChunkIndex: h.Metadata.ChunkIndex,
			Snippet:    h.Metadata.Text,
			Score:      h.Score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	return results, nil
}
