package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"resumerag-go/internal/model"
)

// MemoryDocumentRepository keeps documents in process memory. Callers always receive copies.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*storedDocument
	seq  uint64
	now  func() time.Time
}

type storedDocument struct {
	doc *model.Document
	seq uint64
}

// NewMemoryDocumentRepository creates an empty in-memory DocumentRepository.
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string]*storedDocument), now: time.Now}
}

func (r *MemoryDocumentRepository) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.doc.Clone(), nil
}

func (r *MemoryDocumentRepository) UpsertDocument(ctx context.Context, doc *model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	seq := r.seq + 1
	if existing, ok := r.docs[doc.ID]; ok {
		seq = existing.seq
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = existing.doc.CreatedAt
		}
	} else {
		r.seq = seq
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	for i := range doc.Chunks {
		doc.Chunks[i].DocumentID = doc.ID
	}

	stored := doc.Clone()
	sort.SliceStable(stored.Chunks, func(i, j int) bool { return stored.Chunks[i].ChunkIndex < stored.Chunks[j].ChunkIndex })
	r.docs[doc.ID] = &storedDocument{doc: stored, seq: seq}
	return nil
}

func (r *MemoryDocumentRepository) ListIndexedDocuments(ctx context.Context) ([]*model.Document, error) {
	docs := r.filter(func(d *model.Document) bool { return d.Indexed() })
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (r *MemoryDocumentRepository) FindDocuments(ctx context.Context, ids []string) ([]*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.docs[id]; ok {
			out = append(out, withoutChunks(s.doc))
		}
	}
	return out, nil
}

func (r *MemoryDocumentRepository) FindByContentHash(ctx context.Context, ownerID uint, contentHash string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *storedDocument
	for _, s := range r.docs {
		d := s.doc
		if d.OwnerID != ownerID || d.ContentHash != contentHash || d.Stage == model.StageFailed {
			continue
		}
		if best == nil || s.seq > best.seq {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return withoutChunks(best.doc), nil
}

func (r *MemoryDocumentRepository) ListByOwner(ctx context.Context, ownerID uint) ([]*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stored []*storedDocument
	for _, s := range r.docs {
		if s.doc.OwnerID == ownerID {
			stored = append(stored, s)
		}
	}
	// 最新的在前
	sort.Slice(stored, func(i, j int) bool { return stored[i].seq > stored[j].seq })
	out := make([]*model.Document, len(stored))
	for i, s := range stored {
		out[i] = withoutChunks(s.doc)
	}
	return out, nil
}

func (r *MemoryDocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryDocumentRepository) filter(keep func(*model.Document) bool) []*model.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Document
	for _, s := range r.docs {
		if keep(s.doc) {
			out = append(out, withoutChunks(s.doc))
		}
	}
	return out
}

// withoutChunks mirrors the gorm queries that do not preload chunks.
func withoutChunks(d *model.Document) *model.Document {
	out := *d
	out.Chunks = nil
	out.Embedding = d.Embedding.Clone()
	return &out
}

// MemoryJobRepository keeps job descriptions in process memory.
type MemoryJobRepository struct {
	mu    sync.RWMutex
	jobs  map[string]*model.JobDescription
	order []string
}

// NewMemoryJobRepository creates an empty in-memory JobRepository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*model.JobDescription)}
}

func (r *MemoryJobRepository) CreateJob(ctx context.Context, job *model.JobDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobRepository) GetJob(ctx context.Context, id string) (*model.JobDescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) ListJobs(ctx context.Context) ([]*model.JobDescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.JobDescription, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, cloneJob(r.jobs[r.order[i]]))
	}
	return out, nil
}

func cloneJob(j *model.JobDescription) *model.JobDescription {
	out := *j
	out.Embedding = j.Embedding.Clone()
	return &out
}

var (
	_ DocumentRepository = (*MemoryDocumentRepository)(nil)
	_ JobRepository      = (*MemoryJobRepository)(nil)
)
