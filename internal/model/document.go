// Package model 定义了文档、分块、岗位等核心数据结构。
package model

import "time"

// Document is one candidate document moving through the ingestion lifecycle.
// RawText is immutable once extracted; RedactedText is derived and may be regenerated.
type Document struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID         uint      `gorm:"not null;index:idx_owner_hash" json:"ownerId"`
	FileName        string    `gorm:"type:varchar(255);not null" json:"fileName"`
	ContentType     string    `gorm:"type:varchar(128)" json:"contentType"`
	ContentHash     string    `gorm:"type:varchar(32);not null;index:idx_owner_hash" json:"contentHash"`
	ObjectKey       string    `gorm:"type:varchar(255)" json:"objectKey"`
	RawText         string    `gorm:"type:longtext" json:"-"`
	RedactedText    string    `gorm:"type:longtext" json:"redactedText"`
	RedactionPolicy string    `gorm:"type:varchar(64)" json:"redactionPolicy"`
	Embedding       Embedding `gorm:"embedded;embeddedPrefix:embedding_" json:"-"`
	Chunks          []Chunk   `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"chunks,omitempty"`
	Stage           Stage     `gorm:"type:varchar(16);not null;index" json:"stage"`
	FailedStage     Stage     `gorm:"type:varchar(16)" json:"failedStage,omitempty"`
	FailureReason   string    `gorm:"type:text" json:"failureReason,omitempty"`
	Held            bool      `gorm:"not null;default:false" json:"held"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// Indexed reports whether the document is visible to search and match.
func (d *Document) Indexed() bool {
	return d.Stage == StageIndexed
}

// Clone returns a deep copy of the document, chunks included.
func (d *Document) Clone() *Document {
	out := *d
	out.Embedding = d.Embedding.Clone()
	if d.Chunks != nil {
		out.Chunks = make([]Chunk, len(d.Chunks))
		for i, c := range d.Chunks {
			c.Embedding = c.Embedding.Clone()
			out.Chunks[i] = c
		}
	}
	return &out
}

// StageEvent is published every time a document changes stage.
type StageEvent struct {
	DocumentID string
	Stage      Stage
	// FailedStage is set when Stage is StageFailed.
	FailedStage Stage
	Held        bool
	Err         error
}
