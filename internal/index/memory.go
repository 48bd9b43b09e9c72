package index

import (
	"context"
	"sync"

	"resumerag-go/internal/model"
	"resumerag-go/pkg/log"
)

type entry struct {
	id        string
	embedding model.Embedding
	metadata  Metadata
}

// Memory is an exact (brute-force) in-process index. Entries are immutable once stored; an
// upsert swaps the pointer, so readers never observe a half-written entry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

var _ VectorIndex = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry)}
}

func (m *Memory) Upsert(ctx context.Context, id string, e model.Embedding, md Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateUpsert(id, e, md); err != nil {
		return err
	}
	en := &entry{id: id, embedding: e.Clone(), metadata: md}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = en
	return nil
}

func (m *Memory) Delete(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, q model.Embedding, k int, opts ...QueryOption) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	o := buildOptions(opts)
	var docFilter map[string]bool
	if len(o.DocumentIDs) > 0 {
		docFilter = make(map[string]bool, len(o.DocumentIDs))
		for _, id := range o.DocumentIDs {
			docFilter[id] = true
		}
	}

	m.mu.RLock()
	snapshot := make([]*entry, 0, len(m.entries))
	for _, en := range m.entries {
		snapshot = append(snapshot, en)
	}
	m.mu.RUnlock()

	hits := make([]Hit, 0, len(snapshot))
	mismatched := 0
	for _, en := range snapshot {
		if o.Kind != "" && en.metadata.Kind != o.Kind {
			continue
		}
		if docFilter != nil && !docFilter[en.metadata.DocumentID] {
			continue
		}
		score, err := q.Dot(en.embedding)
		if err != nil {
			mismatched++
			continue
		}
		hits = append(hits, Hit{ID: en.id, Score: score, Metadata: en.metadata})
	}
	if mismatched > 0 {
		log.Warnf("[MemoryIndex] %d 个向量与查询的模型版本不一致, 已排除, query_version: %s", mismatched, q.ModelVersion)
	}

	SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	return nil
}
