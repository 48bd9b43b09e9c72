// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
)

// VectorDocument is one vector entry as stored in the index.
type VectorDocument struct {
	VectorID     string    `json:"vector_id"`
	DocumentID   string    `json:"document_id"`
	Kind         string    `json:"kind"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector,omitempty"`
	ModelVersion string    `json:"model_version"`
}

// KNNFilter restricts a kNN search. Empty fields are not applied.
type KNNFilter struct {
	ModelVersion string
	Kind         string
	DocumentIDs  []string
}

// SearchHit is a kNN hit. Score is the raw Elasticsearch score; for cosine similarity it is (1+cos)/2.
type SearchHit struct {
	Score  float64
	Source VectorDocument
}

// Client wraps the official client with the vector index it manages.
type Client struct {
	es        *elasticsearch.Client
	indexName string
}

// NewClient 初始化 Elasticsearch 客户端
func NewClient(esCfg config.ElasticsearchConfig) (*Client, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{es: client, indexName: esCfg.IndexName}, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则按给定维度创建它
func (c *Client) EnsureIndex(ctx context.Context, dims int) error {
	res, err := c.es.Indices.Exists([]string{c.indexName}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", c.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", c.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"kind": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text", "index": false },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = c.es.Indices.Create(
		c.indexName,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", c.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", c.indexName)
	return nil
}

// IndexDocument 将单个向量写入 Elasticsearch，同 ID 覆盖。
func (c *Client) IndexDocument(ctx context.Context, doc VectorDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      c.indexName,
		DocumentID: doc.VectorID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index document: %s", res.Status())
	}
	return nil
}

// DeleteDocuments 按向量 ID 删除，不存在的 ID 忽略。
func (c *Client) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"ids": map[string]any{"values": ids},
		},
	})
	if err != nil {
		return err
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.indexName},
		bytes.NewReader(body),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("从 Elasticsearch 删除文档出错: %s", res.String())
		return fmt.Errorf("failed to delete documents: %s", res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source VectorDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// KNNSearch runs an approximate kNN search over the vector field.
func (c *Client) KNNSearch(ctx context.Context, vector []float32, k int, filter KNNFilter) ([]SearchHit, error) {
	var filters []map[string]any
	if filter.ModelVersion != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"model_version": filter.ModelVersion}})
	}
	if filter.Kind != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"kind": filter.Kind}})
	}
	if len(filter.DocumentIDs) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"document_id": filter.DocumentIDs}})
	}

	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	if numCandidates > 10000 {
		numCandidates = 10000
	}
	knn := map[string]any{
		"field":          "vector",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": numCandidates,
	}
	if len(filters) > 0 {
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	query := map[string]any{
		"knn":     knn,
		"size":    k,
		"_source": map[string]any{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.indexName),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("Elasticsearch 检索出错: %s", res.String())
		return nil, fmt.Errorf("search failed: %s", res.Status())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]SearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		if h.Source.VectorID == "" {
			h.Source.VectorID = h.ID
		}
		hits = append(hits, SearchHit{Score: h.Score, Source: h.Source})
	}
	return hits, nil
}
