// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"resumerag-go/internal/model"
)

// ErrNotFound 表示请求的记录不存在。
var ErrNotFound = errors.New("record not found")

// DocumentRepository 接口定义了候选人文档及其分块的持久化操作。
type DocumentRepository interface {
	// GetDocument 返回文档及其按序排列的分块。
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	// UpsertDocument 保存文档；doc.Chunks 会整体替换该文档已有的分块。
	UpsertDocument(ctx context.Context, doc *model.Document) error
	// ListIndexedDocuments 返回所有处于 Indexed 阶段的文档（不含分块）。
	ListIndexedDocuments(ctx context.Context) ([]*model.Document, error)
	// FindDocuments 按 id 批量查询（不含分块），不存在的 id 被忽略。
	FindDocuments(ctx context.Context, ids []string) ([]*model.Document, error)
	// FindByContentHash 返回同一 owner 下内容哈希相同且未失败的最新文档。
	FindByContentHash(ctx context.Context, ownerID uint, contentHash string) (*model.Document, error)
	ListByOwner(ctx context.Context, ownerID uint) ([]*model.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// AutoMigrate 创建或更新文档、分块和岗位表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Document{}, &model.Chunk{}, &model.JobDescription{})
}

func (r *documentRepository) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Preload("Chunks", func(db *gorm.DB) *gorm.DB { return db.Order("chunk_index ASC") }).
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

// UpsertDocument 在一个事务中保存文档并替换其分块。
func (r *documentRepository) UpsertDocument(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Chunks").Save(doc).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", doc.ID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(doc.Chunks) == 0 {
			return nil
		}
		chunks := make([]model.Chunk, len(doc.Chunks))
		for i, c := range doc.Chunks {
			c.ID = 0
			c.DocumentID = doc.ID
			chunks[i] = c
		}
		if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
			return err
		}
		for i := range chunks {
			doc.Chunks[i].ID = chunks[i].ID
		}
		return nil
	})
}

func (r *documentRepository) ListIndexedDocuments(ctx context.Context) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.WithContext(ctx).Where("stage = ?", model.StageIndexed).Order("id ASC").Find(&docs).Error
	return docs, err
}

func (r *documentRepository) FindDocuments(ctx context.Context, ids []string) ([]*model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []*model.Document
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error
	return docs, err
}

func (r *documentRepository) FindByContentHash(ctx context.Context, ownerID uint, contentHash string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ? AND stage <> ?", ownerID, contentHash, model.StageFailed).
		Order("created_at DESC").
		First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (r *documentRepository) ListByOwner(ctx context.Context, ownerID uint) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

// DeleteDocument 删除文档记录及其分块。
func (r *documentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
