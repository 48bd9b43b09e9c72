// Package pipeline 定义了文件处理的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"resumerag-go/internal/embedding"
	"resumerag-go/internal/extractor"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/redact"
	"resumerag-go/internal/repository"
	"resumerag-go/pkg/log"
	"resumerag-go/pkg/storage"
	"resumerag-go/pkg/tasks"
)

// Extractor turns stored bytes into text.
type Extractor interface {
	Extract(ctx context.Context, name string, data []byte, contentType string) (*extractor.Extraction, error)
}

// Embedder chunks and embeds redacted text.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) (*embedding.Result, error)
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	docs      repository.DocumentRepository
	blobs     storage.BlobStore
	extractor Extractor
	redactor  redact.Redactor
	embedder  Embedder
	index     index.VectorIndex
	events    *Broker
}

// NewProcessor 创建一个新的 Processor 实例。events 可以为 nil。
func NewProcessor(
	docs repository.DocumentRepository,
	blobs storage.BlobStore,
	ex Extractor,
	redactor redact.Redactor,
	embedder Embedder,
	idx index.VectorIndex,
	events *Broker,
) *Processor {
	return &Processor{
		docs:      docs,
		blobs:     blobs,
		extractor: ex,
		redactor:  redactor,
		embedder:  embedder,
		index:     idx,
		events:    events,
	}
}

// errStop ends a run without an error returned to the dispatcher: the outcome (failure or hold)
// is recorded on the document and retrying would not change it.
var errStop = errors.New("stop")

// Process drives the document named by the task forward from whatever stage it is at until it
// is Indexed, held or Failed. Each transition is persisted before the next step starts.
//
// A returned error means a retry may succeed: infrastructure errors, an embedding failure or an
// unavailable index. Extraction failures and degraded redaction are recorded and return nil.
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, FileName: %s", task.DocumentID, task.FileName)

	doc, err := p.docs.GetDocument(ctx, task.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[Processor] 文档已不存在, 跳过, DocumentID: %s", task.DocumentID)
			return nil
		}
		return fmt.Errorf("读取文档记录失败: %w", err)
	}

	if doc.Stage == model.StageFailed {
		if !p.resume(doc) {
			log.Infof("[Processor] 文档提取已失败, 不再重试, DocumentID: %s", doc.ID)
			return nil
		}
	}

	for !doc.Stage.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var stepErr error
		switch doc.Stage {
		case model.StageUploaded:
			stepErr = p.extract(ctx, doc)
		case model.StageExtracted:
			stepErr = p.redact(ctx, doc)
		case model.StageRedacted:
			stepErr = p.embed(ctx, doc)
		case model.StageEmbedded:
			stepErr = p.indexVectors(ctx, doc)
		}
		if errors.Is(stepErr, errStop) {
			return nil
		}
		if stepErr != nil {
			return stepErr
		}
	}

	log.Infof("[Processor] 文档处理成功完成, DocumentID: %s, Chunks: %d", doc.ID, len(doc.Chunks))
	return nil
}

// resume re-enters the lifecycle of a failed document at the last stage whose output is still
// valid. Extraction failures cannot be resumed.
func (p *Processor) resume(doc *model.Document) bool {
	var to model.Stage
	switch doc.FailedStage {
	case model.StageRedacted:
		to = model.StageExtracted
	case model.StageEmbedded, model.StageIndexed:
		to = model.StageRedacted
	default:
		return false
	}
	if err := doc.Rewind(to); err != nil {
		log.Warnf("[Processor] 无法恢复失败文档, DocumentID: %s, Error: %v", doc.ID, err)
		return false
	}
	log.Infof("[Processor] 重试失败文档, DocumentID: %s, 从 %s 重新开始", doc.ID, to)
	return true
}

// 步骤1: 下载原始文件并提取文本
func (p *Processor) extract(ctx context.Context, doc *model.Document) error {
	data, err := p.blobs.Get(ctx, doc.ObjectKey)
	if err != nil {
		log.Errorf("[Processor] 读取原始文件失败, Object: %s, Error: %v", doc.ObjectKey, err)
		return fmt.Errorf("读取原始文件失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文件读取成功, 大小: %d字节", len(data))

	out, err := p.extractor.Extract(ctx, doc.FileName, data, doc.ContentType)
	if err == nil && out.Text() == "" {
		err = &extractor.ExtractionFailed{Identity: doc.FileName, Err: extractor.ErrNoText}
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("[Processor] 文本提取失败, DocumentID: %s, Error: %v", doc.ID, err)
		return p.fail(ctx, doc, model.StageExtracted, err, errStop)
	}

	doc.RawText = out.Text()
	log.Infof("[Processor] 步骤1: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(doc.RawText))
	return p.advance(ctx, doc, model.StageExtracted)
}

// 步骤2: PII 脱敏
func (p *Processor) redact(ctx context.Context, doc *model.Document) error {
	text, err := p.redactor.Redact(ctx, doc.RawText)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, redact.ErrRedactionDegraded) {
			log.Warnf("[Processor] 脱敏降级, 文档保持在 Extracted 并标记, DocumentID: %s, Error: %v", doc.ID, err)
			doc.Hold(err.Error())
			if perr := p.docs.UpsertDocument(ctx, doc); perr != nil {
				return fmt.Errorf("保存文档状态失败: %w", perr)
			}
			p.publish(doc, err)
			return errStop
		}
		return p.fail(ctx, doc, model.StageRedacted, err, err)
	}

	doc.RedactedText = text
	doc.RedactionPolicy = p.redactor.Policy()
	log.Infof("[Processor] 步骤2: 脱敏完成, Policy: %s", doc.RedactionPolicy)
	return p.advance(ctx, doc, model.StageRedacted)
}

// 步骤3: 文本分块与向量化
func (p *Processor) embed(ctx context.Context, doc *model.Document) error {
	res, err := p.embedder.EmbedDocument(ctx, doc.RedactedText)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("[Processor] 向量化失败, DocumentID: %s, Error: %v", doc.ID, err)
		return p.fail(ctx, doc, model.StageEmbedded, err, err)
	}

	// 旧的多余分块需要从索引中删除
	if stale := staleChunkIDs(doc.ID, len(doc.Chunks), len(res.Chunks)); len(stale) > 0 {
		if err := p.index.Delete(ctx, stale...); err != nil {
			log.Errorf("[Processor] 删除过期分块失败, DocumentID: %s, Error: %v", doc.ID, err)
			return p.fail(ctx, doc, model.StageEmbedded, err, err)
		}
		log.Infof("[Processor] 已删除 %d 个过期分块", len(stale))
	}

	chunks := make([]model.Chunk, len(res.Chunks))
	for i, cv := range res.Chunks {
		chunks[i] = model.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  cv.Index,
			StartOffset: cv.Start,
			EndOffset:   cv.End,
			TextContent: cv.Text,
			Embedding:   cv.Embedding,
		}
	}
	doc.Chunks = chunks
	doc.Embedding = res.Document
	log.Infof("[Processor] 步骤3: 向量化完成, 共生成 %d 个分块, ModelVersion: %s", len(chunks), doc.Embedding.ModelVersion)
	return p.advance(ctx, doc, model.StageEmbedded)
}

// 步骤4: 写入向量索引
func (p *Processor) indexVectors(ctx context.Context, doc *model.Document) error {
	for _, c := range doc.Chunks {
		md := index.Metadata{DocumentID: doc.ID, Kind: index.KindChunk, ChunkIndex: c.ChunkIndex, Text: c.TextContent}
		if err := p.index.Upsert(ctx, c.VectorID(), c.Embedding, md); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("[Processor] 索引分块 %d 失败, Error: %v", c.ChunkIndex, err)
			return p.fail(ctx, doc, model.StageIndexed, err, err)
		}
	}
	md := index.Metadata{DocumentID: doc.ID, Kind: index.KindDocument}
	if err := p.index.Upsert(ctx, model.DocumentVectorID(doc.ID), doc.Embedding, md); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("[Processor] 索引文档向量失败, Error: %v", err)
		return p.fail(ctx, doc, model.StageIndexed, err, err)
	}
	log.Infof("[Processor] 步骤4: 索引完成, 分块数: %d", len(doc.Chunks))
	return p.advance(ctx, doc, model.StageIndexed)
}

func (p *Processor) advance(ctx context.Context, doc *model.Document, to model.Stage) error {
	if err := doc.Advance(to); err != nil {
		return err
	}
	if err := p.docs.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("保存文档状态失败: %w", err)
	}
	p.publish(doc, nil)
	return nil
}

// fail records Failed(at) and returns ret, which tells Process whether a retry is worthwhile.
func (p *Processor) fail(ctx context.Context, doc *model.Document, at model.Stage, cause, ret error) error {
	if err := doc.Fail(at, cause.Error()); err != nil {
		return err
	}
	if err := p.docs.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("保存失败状态失败: %w", err)
	}
	p.publish(doc, cause)
	if ret == errStop {
		return errStop
	}
	return fmt.Errorf("文档 %s 在 %s 阶段失败: %w", doc.ID, at, ret)
}

func (p *Processor) publish(doc *model.Document, err error) {
	if p.events == nil {
		return
	}
	p.events.Publish(model.StageEvent{
		DocumentID:  doc.ID,
		Stage:       doc.Stage,
		FailedStage: doc.FailedStage,
		Held:        doc.Held,
		Err:         err,
	})
}

// staleChunkIDs lists the vector ids of chunks [newCount, oldCount).
func staleChunkIDs(docID string, oldCount, newCount int) []string {
	var ids []string
	for i := newCount; i < oldCount; i++ {
		ids = append(ids, model.ChunkVectorID(docID, i))
	}
	return ids
}
