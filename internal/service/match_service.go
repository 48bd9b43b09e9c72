package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"resumerag-go/internal/config"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/repository"
	"resumerag-go/pkg/log"
)

// MatchService 接口定义了岗位与候选人的匹配操作。
type MatchService interface {
	// Match ranks Indexed documents against an ad-hoc job description.
	Match(ctx context.Context, jobText string, topN int) ([]model.MatchResult, error)
	// CreateJob stores a job with its requirement terms and embedding.
	CreateJob(ctx context.Context, title, text string) (*model.JobDescription, error)
	// MatchJob ranks Indexed documents against a stored job.
	MatchJob(ctx context.Context, jobID string, topN int) ([]model.MatchResult, error)
}

type matchService struct {
	embedder QueryEmbedder
	index    index.VectorIndex
	docs     repository.DocumentRepository
	jobs     repository.JobRepository
	cfg      config.MatchConfig
}

// NewMatchService 创建一个新的 MatchService 实例。
func NewMatchService(embedder QueryEmbedder, idx index.VectorIndex, docs repository.DocumentRepository, jobs repository.JobRepository, cfg config.MatchConfig) MatchService {
	return &matchService{embedder: embedder, index: idx, docs: docs, jobs: jobs, cfg: cfg}
}

func (s *matchService) validate(text string, topN int) error {
	if topN < 1 || topN > s.cfg.MaxTopN {
		return fmt.Errorf("%w: topN must be in [1, %d], got %d", ErrInvalidArgument, s.cfg.MaxTopN, topN)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty job description", ErrInvalidArgument)
	}
	return nil
}

func (s *matchService) Match(ctx context.Context, jobText string, topN int) ([]model.MatchResult, error) {
	if err := s.validate(jobText, topN); err != nil {
		return nil, err
	}
	jobVector, err := s.embedder.EmbedQuery(ctx, jobText)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, "", jobVector, ExtractRequirements(jobText), topN)
}

func (s *matchService) CreateJob(ctx context.Context, title, text string) (*model.JobDescription, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: job title and description are required", ErrInvalidArgument)
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	job := &model.JobDescription{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(title),
		DescriptionText: text,
		Embedding:       vector,
	}
	job.SetRequirements(ExtractRequirements(text))
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("保存岗位失败: %w", err)
	}
	log.Infof("[MatchService] 岗位已创建, JobID: %s, Requirements: %v", job.ID, job.Requirements())
	return job, nil
}

func (s *matchService) MatchJob(ctx context.Context, jobID string, topN int) ([]model.MatchResult, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s not found", ErrInvalidArgument, jobID)
		}
		return nil, err
	}
	if err := s.validate(job.DescriptionText, topN); err != nil {
		return nil, err
	}

	jobVector := job.Embedding
	current, err := s.embedder.ModelVersion(ctx)
	if err != nil {
		return nil, err
	}
	if jobVector.IsZero() || jobVector.ModelVersion != current {
		// 岗位向量来自旧模型时重新计算，避免与文档向量混用版本
		log.Infof("[MatchService] 岗位向量版本 %q 与当前模型 %q 不一致, 重新向量化", jobVector.ModelVersion, current)
		if jobVector, err = s.embedder.EmbedQuery(ctx, job.DescriptionText); err != nil {
			return nil, err
		}
	}
	return s.rank(ctx, job.ID, jobVector, job.Requirements(), topN)
}

// rank scores every Indexed document's document-level vector against the job vector. Documents
// embedded by a different model version are excluded and counted.
func (s *matchService) rank(ctx context.Context, jobID string, jobVector model.Embedding, requirements []string, topN int) ([]model.MatchResult, error) {
	docs, err := s.docs.ListIndexedDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取已索引文档失败: %w", err)
	}

	type scored struct {
		doc   *model.Document
		score float64
	}
	candidates := make([]scored, 0, len(docs))
	mismatches := 0
	for _, d := range docs {
		score, err := d.Embedding.Dot(jobVector)
		if err != nil {
			mismatches++
			log.Warnf("[MatchService] 跳过文档, DocumentID: %s, Error: %v", d.ID, err)
			continue
		}
		candidates = append(candidates, scored{doc: d, score: score})
	}
	if mismatches > 0 {
		log.Warnw("[MatchService] 存在模型版本不一致的文档", "count", mismatches, "modelVersion", jobVector.ModelVersion)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.ID < candidates[j].doc.ID
	})
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	results := make([]model.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		evidence, err := s.evidence(ctx, c.doc.ID, jobVector)
		if err != nil {
			return nil, err
		}
		results = append(results, model.MatchResult{
			JobID:               jobID,
			DocumentID:          c.doc.ID,
			FileName:            c.doc.FileName,
			Score:               c.score,
			Evidence:            evidence,
			MissingRequirements: MissingRequirements(requirements, c.doc.RedactedText),
		})
	}
	log.Infof("[MatchService] 匹配完成, 候选文档: %d, 返回: %d", len(docs), len(results))
	return results, nil
}

// evidence is the text of the document's chunk closest to the job vector.
func (s *matchService) evidence(ctx context.Context, documentID string, jobVector model.Embedding) (string, error) {
	hits, err := s.index.Query(ctx, jobVector, 1, index.WithKind(index.KindChunk), index.WithDocumentIDs(documentID))
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}
	return hits[0].Metadata.Text, nil
}
