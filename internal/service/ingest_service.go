package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"resumerag-go/internal/extractor"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/pipeline"
	"resumerag-go/internal/redact"
	"resumerag-go/internal/repository"
	"resumerag-go/pkg/log"
	"resumerag-go/pkg/storage"
	"resumerag-go/pkg/tasks"
)

// Upload is one file handed to Submit.
type Upload struct {
	OwnerID     uint
	FileName    string
	ContentType string
	Data        []byte
}

// IngestService 接口定义了文档导入、删除和重新处理的业务操作。
type IngestService interface {
	// Submit stores the upload and schedules its processing. A ZIP upload yields one document per
	// entry. Returns immediately; progress is visible on the document record and as StageEvents.
	Submit(ctx context.Context, up Upload) ([]*model.Document, error)
	Delete(ctx context.Context, id string) error
	// Reprocess re-runs redaction and everything after it for one document.
	Reprocess(ctx context.Context, id string) (*model.Document, error)
	// ReprocessOutdated rewinds Indexed documents redacted under another policy or embedded by
	// another model version, and returns how many were scheduled.
	ReprocessOutdated(ctx context.Context) (int, error)
}

type ingestService struct {
	docs       repository.DocumentRepository
	blobs      storage.BlobStore
	unpacker   *extractor.Extractor
	index      index.VectorIndex
	dispatcher tasks.Dispatcher
	redactor   redact.Redactor
	embedder   QueryEmbedder
	events     *pipeline.Broker

	// 同一 owner 的相同内容并发提交只创建一条记录
	submits singleflight.Group
}

// NewIngestService 创建一个新的 IngestService 实例。events 可以为 nil。
func NewIngestService(
	docs repository.DocumentRepository,
	blobs storage.BlobStore,
	unpacker *extractor.Extractor,
	idx index.VectorIndex,
	dispatcher tasks.Dispatcher,
	redactor redact.Redactor,
	embedder QueryEmbedder,
	events *pipeline.Broker,
) IngestService {
	return &ingestService{
		docs:       docs,
		blobs:      blobs,
		unpacker:   unpacker,
		index:      idx,
		dispatcher: dispatcher,
		redactor:   redactor,
		embedder:   embedder,
		events:     events,
	}
}

func (s *ingestService) Submit(ctx context.Context, up Upload) ([]*model.Document, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload %q", ErrInvalidArgument, up.FileName)
	}
	ct := extractor.NormalizeContentType(up.ContentType, up.FileName)
	if !extractor.Supported(ct) {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidArgument, extractor.ErrUnsupportedType, up.ContentType)
	}
	log.Infof("[IngestService] 收到上传, FileName: %s, OwnerID: %d, 大小: %d字节", up.FileName, up.OwnerID, len(up.Data))

	if ct != extractor.ContentTypeZIP {
		doc, err := s.submitOne(ctx, up.OwnerID, up.FileName, ct, up.Data)
		if err != nil {
			return nil, err
		}
		return []*model.Document{doc}, nil
	}
	return s.submitArchive(ctx, up)
}

// submitArchive 将压缩包中的每个文档作为独立文档导入，读取失败的条目记录为 Failed(Extracted)。
func (s *ingestService) submitArchive(ctx context.Context, up Upload) ([]*model.Document, error) {
	unpacked, err := s.unpacker.Unpack(ctx, up.FileName, up.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 整个压缩包损坏或超出限制
		log.Warnf("[IngestService] 压缩包无法解开, FileName: %s, Error: %v", up.FileName, err)
		doc, ferr := s.recordFailed(ctx, up.OwnerID, up.FileName, extractor.ContentTypeZIP, contentHash(up.Data), err)
		if ferr != nil {
			return nil, ferr
		}
		return []*model.Document{doc}, nil
	}

	docs := make([]*model.Document, 0, len(unpacked.Files)+len(unpacked.Failed))
	for _, f := range unpacked.Files {
		doc, err := s.submitOne(ctx, up.OwnerID, f.Name, f.ContentType, f.Data)
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	for _, entry := range unpacked.Failed {
		doc, err := s.recordFailed(ctx, up.OwnerID, entry.Name, entry.ContentType, contentHash([]byte(entry.Name)), entry.Err)
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	if len(unpacked.Skipped) > 0 {
		log.Infof("[IngestService] 跳过不支持的条目: %v", unpacked.Skipped)
	}
	log.Infof("[IngestService] 压缩包导入完成, FileName: %s, 文档: %d, 失败条目: %d", up.FileName, len(unpacked.Files), len(unpacked.Failed))
	return docs, nil
}

func (s *ingestService) submitOne(ctx context.Context, ownerID uint, fileName, ct string, data []byte) (*model.Document, error) {
	hash := contentHash(data)
	v, err, _ := s.submits.Do(fmt.Sprintf("%d:%s", ownerID, hash), func() (any, error) {
		return s.createOnce(ctx, ownerID, fileName, ct, hash, data)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Document), nil
}

func (s *ingestService) createOnce(ctx context.Context, ownerID uint, fileName, ct, hash string, data []byte) (*model.Document, error) {
	existing, err := s.docs.FindByContentHash(ctx, ownerID, hash)
	if err == nil {
		log.Infof("[IngestService] 文件已存在, 直接返回, DocumentID: %s, MD5: %s", existing.ID, hash)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("查询文件记录失败: %w", err)
	}

	id := uuid.NewString()
	doc := &model.Document{
		ID:          id,
		OwnerID:     ownerID,
		FileName:    fileName,
		ContentType: ct,
		ContentHash: hash,
		ObjectKey:   objectKey(id, fileName),
		Stage:       model.StageUploaded,
	}
	if err := s.blobs.Put(ctx, doc.ObjectKey, data, ct); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}
	if err := s.docs.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	s.publish(model.StageEvent{DocumentID: doc.ID, Stage: doc.Stage})

	if err := s.dispatch(ctx, doc); err != nil {
		return nil, err
	}
	log.Infof("[IngestService] 文档已提交处理, DocumentID: %s, FileName: %s", doc.ID, fileName)
	return doc, nil
}

func (s *ingestService) recordFailed(ctx context.Context, ownerID uint, name, ct, hash string, cause error) (*model.Document, error) {
	doc := &model.Document{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		FileName:    name,
		ContentType: ct,
		ContentHash: hash,
		Stage:       model.StageUploaded,
	}
	if err := doc.Fail(model.StageExtracted, cause.Error()); err != nil {
		return nil, err
	}
	if err := s.docs.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	s.publish(model.StageEvent{DocumentID: doc.ID, Stage: doc.Stage, FailedStage: doc.FailedStage, Err: cause})
	return doc, nil
}

func (s *ingestService) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(doc.Chunks)+1)
	for _, c := range doc.Chunks {
		ids = append(ids, c.VectorID())
	}
	ids = append(ids, model.DocumentVectorID(doc.ID))
	// 先删索引，索引不可用时保留记录以便重试
	if err := s.index.Delete(ctx, ids...); err != nil {
		return err
	}
	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.ObjectKey != "" {
		if err := s.blobs.Delete(ctx, doc.ObjectKey); err != nil {
			log.Warnf("[IngestService] 删除原始文件失败, Object: %s, Error: %v", doc.ObjectKey, err)
		}
	}
	log.Infof("[IngestService] 文档已删除, DocumentID: %s", id)
	return nil
}

func (s *ingestService) Reprocess(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	// Uploaded 还没有可复用的文本，直接重新派发即可
	if doc.Stage != model.StageUploaded {
		if err := doc.Rewind(model.StageExtracted); err != nil {
			return nil, err
		}
		if err := s.docs.UpsertDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("保存文档状态失败: %w", err)
		}
		s.publish(model.StageEvent{DocumentID: doc.ID, Stage: doc.Stage})
	}
	if err := s.dispatch(ctx, doc); err != nil {
		return nil, err
	}
	log.Infof("[IngestService] 文档重新处理, DocumentID: %s, Stage: %s", doc.ID, doc.Stage)
	return doc, nil
}

func (s *ingestService) ReprocessOutdated(ctx context.Context) (int, error) {
	current, err := s.embedder.ModelVersion(ctx)
	if err != nil {
		return 0, err
	}
	policy := s.redactor.Policy()

	indexed, err := s.docs.ListIndexedDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取已索引文档失败: %w", err)
	}
	scheduled := 0
	for _, d := range indexed {
		var to model.Stage
		switch {
		case d.RedactionPolicy != policy:
			to = model.StageExtracted
		case d.Embedding.ModelVersion != current:
			to = model.StageRedacted
		default:
			continue
		}

		// 列表不含分块，保存前需要读取完整记录
		doc, err := s.docs.GetDocument(ctx, d.ID)
		if err != nil {
			return scheduled, err
		}
		if err := doc.Rewind(to); err != nil {
			return scheduled, err
		}
		if err := s.docs.UpsertDocument(ctx, doc); err != nil {
			return scheduled, fmt.Errorf("保存文档状态失败: %w", err)
		}
		s.publish(model.StageEvent{DocumentID: doc.ID, Stage: doc.Stage})
		if err := s.dispatch(ctx, doc); err != nil {
			return scheduled, err
		}
		scheduled++
	}
	log.Infof("[IngestService] 过期文档已重新调度: %d / %d", scheduled, len(indexed))
	return scheduled, nil
}

func (s *ingestService) dispatch(ctx context.Context, doc *model.Document) error {
	task := tasks.IngestTask{DocumentID: doc.ID, FileName: doc.FileName, OwnerID: doc.OwnerID}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Errorf("[IngestService] 派发处理任务失败, DocumentID: %s, Error: %v", doc.ID, err)
		return fmt.Errorf("派发处理任务失败: %w", err)
	}
	return nil
}

func (s *ingestService) publish(ev model.StageEvent) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

func contentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func objectKey(id, fileName string) string {
	return "documents/" + id + "/" + path.Base(fileName)
}
