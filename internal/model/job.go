package model

import (
	"strings"
	"time"
)

// JobDescription is a job posting with its derived requirement terms and embedding.
type JobDescription struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title           string    `gorm:"type:varchar(255);not null" json:"title"`
	DescriptionText string    `gorm:"type:text;not null" json:"descriptionText"`
	RequirementsRaw string    `gorm:"type:text;column:requirements" json:"-"`
	Embedding       Embedding `gorm:"embedded;embeddedPrefix:embedding_" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (JobDescription) TableName() string {
	return "jobs"
}

// Requirements returns the ordered requirement terms.
func (j *JobDescription) Requirements() []string {
	if j.RequirementsRaw == "" {
		return nil
	}
	return strings.Split(j.RequirementsRaw, "\n")
}

// SetRequirements stores the ordered requirement terms, one per line.
func (j *JobDescription) SetRequirements(terms []string) {
	j.RequirementsRaw = strings.Join(terms, "\n")
}

// MatchResult is one ranked candidate for a job.
type MatchResult struct {
	JobID               string   `json:"jobId"`
	DocumentID          string   `json:"documentId"`
	FileName            string   `json:"fileName"`
	Score               float64  `json:"score"`
	Evidence            string   `json:"evidence"`
	MissingRequirements []string `json:"missingRequirements"`
}

// SearchResult is one ranked document for a free-text question.
type SearchResult struct {
	DocumentID string  `json:"documentId"`
	FileName   string  `json:"fileName"`
	ChunkIndex int     `json:"chunkIndex"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}
