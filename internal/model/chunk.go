package model

import "fmt"

// Chunk 对应 document_chunks 表，是文档的一个分块，也是向量化与检索的基本单位。
type Chunk struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	DocumentID string `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_doc_chunk" json:"documentId"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_doc_chunk" json:"chunkIndex"`
	// StartOffset and EndOffset are byte offsets [start, end) into the redacted text.
	StartOffset int       `gorm:"not null" json:"startOffset"`
	EndOffset   int       `gorm:"not null" json:"endOffset"`
	TextContent string    `gorm:"type:text" json:"textContent"`
	Embedding   Embedding `gorm:"embedded;embeddedPrefix:embedding_" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "document_chunks"
}

// VectorID is the index key of this chunk.
func (c Chunk) VectorID() string {
	return ChunkVectorID(c.DocumentID, c.ChunkIndex)
}

// ChunkVectorID builds the index key for chunk i of a document.
func ChunkVectorID(documentID string, i int) string {
	return fmt.Sprintf("%s:%d", documentID, i)
}

// DocumentVectorID is the index key of a document-level vector.
func DocumentVectorID(documentID string) string {
	return documentID
}
