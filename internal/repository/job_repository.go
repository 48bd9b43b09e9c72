package repository

import (
	"context"

	"gorm.io/gorm"

	"resumerag-go/internal/model"
)

// JobRepository 接口定义了岗位描述的持久化操作。
type JobRepository interface {
	CreateJob(ctx context.Context, job *model.JobDescription) error
	GetJob(ctx context.Context, id string) (*model.JobDescription, error)
	ListJobs(ctx context.Context) ([]*model.JobDescription, error)
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建一个新的 JobRepository 实例。
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) CreateJob(ctx context.Context, job *model.JobDescription) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) GetJob(ctx context.Context, id string) (*model.JobDescription, error) {
	var job model.JobDescription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (r *jobRepository) ListJobs(ctx context.Context) ([]*model.JobDescription, error) {
	var jobs []*model.JobDescription
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}
