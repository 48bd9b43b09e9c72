// Package app 组装所有组件，对外提供提取、脱敏、向量化、索引、检索和匹配操作。
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"resumerag-go/internal/config"
	"resumerag-go/internal/embedding"
	"resumerag-go/internal/extractor"
	"resumerag-go/internal/index"
	"resumerag-go/internal/model"
	"resumerag-go/internal/pipeline"
	"resumerag-go/internal/redact"
	"resumerag-go/internal/repository"
	"resumerag-go/internal/service"
	"resumerag-go/pkg/database"
	embeddingclient "resumerag-go/pkg/embedding"
	"resumerag-go/pkg/kafka"
	"resumerag-go/pkg/log"
	"resumerag-go/pkg/storage"
	"resumerag-go/pkg/tasks"
	"resumerag-go/pkg/tika"
)

// App owns every component built from one Config. All methods are safe for concurrent use.
type App struct {
	db    *gorm.DB
	rdb   *redis.Client
	docs  repository.DocumentRepository
	jobs  repository.JobRepository
	blobs storage.BlobStore
	index index.VectorIndex

	extractor  *extractor.Extractor
	redactor   redact.Redactor
	embedder   *embedding.Generator
	events     *pipeline.Broker
	processor  *pipeline.Processor
	dispatcher tasks.Dispatcher
	consumer   *kafka.Consumer

	search service.SearchService
	match  service.MatchService
	ingest service.IngestService
}

// Option replaces a component New would otherwise build from the config.
type Option func(*options)

type options struct {
	docs            repository.DocumentRepository
	jobs            repository.JobRepository
	blobs           storage.BlobStore
	index           index.VectorIndex
	embeddingClient embeddingclient.Client
	redactor        redact.Redactor
}

func WithDocumentRepository(r repository.DocumentRepository) Option {
	return func(o *options) { o.docs = r }
}

func WithJobRepository(r repository.JobRepository) Option {
	return func(o *options) { o.jobs = r }
}

func WithBlobStore(s storage.BlobStore) Option {
	return func(o *options) { o.blobs = s }
}

func WithIndex(idx index.VectorIndex) Option {
	return func(o *options) { o.index = idx }
}

// WithEmbeddingClient skips lazy provider initialization and uses c for every embedding.
func WithEmbeddingClient(c embeddingclient.Client) Option {
	return func(o *options) { o.embeddingClient = c }
}

func WithRedactor(r redact.Redactor) Option {
	return func(o *options) { o.redactor = r }
}

// New 按配置初始化所有组件。失败时已打开的连接会被关闭。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{events: pipeline.NewBroker()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// 1. 文档存储
	a.docs, a.jobs = o.docs, o.jobs
	if cfg.Database.Driver == "mysql" && (a.docs == nil || a.jobs == nil) {
		if a.db, err = database.NewMySQL(cfg.Database.MySQL.DSN); err != nil {
			return nil, err
		}
		if err = repository.AutoMigrate(a.db); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
	}
	if a.docs == nil {
		if a.db != nil {
			a.docs = repository.NewDocumentRepository(a.db)
		} else {
			a.docs = repository.NewMemoryDocumentRepository()
		}
	}
	if a.jobs == nil {
		if a.db != nil {
			a.jobs = repository.NewJobRepository(a.db)
		} else {
			a.jobs = repository.NewMemoryJobRepository()
		}
	}

	// 2. Redis（向量缓存与 Kafka 重试计数）
	if cfg.Database.Redis.Addr != "" {
		if a.rdb, err = database.NewRedis(ctx, cfg.Database.Redis); err != nil {
			return nil, err
		}
	}

	// 3. 原始文件存储
	a.blobs = o.blobs
	if a.blobs == nil {
		if a.blobs, err = storage.NewFromConfig(ctx, cfg.MinIO); err != nil {
			return nil, err
		}
	}

	// 4. 提取、脱敏、向量化
	var pdf extractor.TextExtractor
	if cfg.Tika.ServerURL != "" {
		pdf = tika.NewClient(cfg.Tika)
	}
	a.extractor = extractor.New(pdf, extractor.LimitsFromConfig(cfg.Extraction))

	a.redactor = o.redactor
	if a.redactor == nil {
		a.redactor = redact.NewFromConfig(cfg.Redaction)
	}

	var embedOpts []embedding.Option
	if o.embeddingClient != nil {
		embedOpts = append(embedOpts, embedding.WithClient(o.embeddingClient))
	}
	if a.rdb != nil {
		embedOpts = append(embedOpts, embedding.WithRemoteCache(embedding.NewRedisCache(a.rdb, cfg.Embedding.CacheTTL)))
	}
	if a.embedder, err = embedding.New(cfg.Embedding, cfg.Chunking, embedOpts...); err != nil {
		return nil, err
	}

	// 5. 向量索引
	a.index = o.index
	if a.index == nil {
		if a.index, err = index.New(ctx, *cfg, cfg.Embedding.Dimensions); err != nil {
			return nil, err
		}
	}

	// 6. 处理管道与任务派发
	a.processor = pipeline.NewProcessor(a.docs, a.blobs, a.extractor, a.redactor, a.embedder, a.index, a.events)
	switch cfg.Ingest.Dispatcher {
	case "kafka":
		if a.rdb == nil {
			return nil, errors.New("kafka dispatcher requires database.redis.addr for attempt counting")
		}
		a.dispatcher = kafka.NewProducer(cfg.Kafka)
		a.consumer = kafka.NewConsumer(cfg.Kafka, a.processor, kafka.NewRedisAttempts(a.rdb))
	default:
		a.dispatcher = tasks.NewLocalDispatcher(a.processor, cfg.Ingest.Workers, cfg.Ingest.QueueSize)
	}

	// 7. 业务服务
	a.search = service.NewSearchService(a.embedder, a.index, a.docs, cfg.Query)
	a.match = service.NewMatchService(a.embedder, a.index, a.docs, a.jobs, cfg.Match)
	a.ingest = service.NewIngestService(a.docs, a.blobs, a.extractor, a.index, a.dispatcher, a.redactor, a.embedder, a.events)

	log.Infow("[App] 初始化完成",
		"database", cfg.Database.Driver,
		"index", cfg.Index.Backend,
		"embedding", cfg.Embedding.Provider,
		"dispatcher", cfg.Ingest.Dispatcher,
	)
	return a, nil
}

// Extract converts document bytes into text. A ZIP yields one entry per contained document.
func (a *App) Extract(ctx context.Context, data []byte, contentType string) (*extractor.Extraction, error) {
	return a.extractor.Extract(ctx, "document", data, contentType)
}

// Redact returns text with personal data replaced by placeholders, or ErrRedactionDegraded.
func (a *App) Redact(ctx context.Context, text string) (string, error) {
	return a.redactor.Redact(ctx, text)
}

// Embed chunks text with the given window and returns the document vector and the chunk vectors.
func (a *App) Embed(ctx context.Context, text string, chunking config.ChunkingConfig) (model.Embedding, []embedding.ChunkVector, error) {
	res, err := a.embedder.Embed(ctx, text, chunking)
	if err != nil {
		return model.Embedding{}, nil, err
	}
	return res.Document, res.Chunks, nil
}

func (a *App) IndexUpsert(ctx context.Context, id string, vector model.Embedding, md index.Metadata) error {
	return a.index.Upsert(ctx, id, vector, md)
}

func (a *App) IndexDelete(ctx context.Context, id string) error {
	return a.index.Delete(ctx, id)
}

func (a *App) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	return a.search.Search(ctx, query, k)
}

func (a *App) Match(ctx context.Context, jobText string, topN int) ([]model.MatchResult, error) {
	return a.match.Match(ctx, jobText, topN)
}

func (a *App) CreateJob(ctx context.Context, title, text string) (*model.JobDescription, error) {
	return a.match.CreateJob(ctx, title, text)
}

func (a *App) MatchJob(ctx context.Context, jobID string, topN int) ([]model.MatchResult, error) {
	return a.match.MatchJob(ctx, jobID, topN)
}

// Submit stores an upload and schedules its ingestion. It returns before processing finishes.
func (a *App) Submit(ctx context.Context, up service.Upload) ([]*model.Document, error) {
	return a.ingest.Submit(ctx, up)
}

func (a *App) Delete(ctx context.Context, id string) error {
	return a.ingest.Delete(ctx, id)
}

func (a *App) Reprocess(ctx context.Context, id string) (*model.Document, error) {
	return a.ingest.Reprocess(ctx, id)
}

func (a *App) ReprocessOutdated(ctx context.Context) (int, error) {
	return a.ingest.ReprocessOutdated(ctx)
}

// Document returns the current record of a document, for polling its stage.
func (a *App) Document(ctx context.Context, id string) (*model.Document, error) {
	return a.docs.GetDocument(ctx, id)
}

// Subscribe delivers every stage change. Call the returned function to stop.
func (a *App) Subscribe(buffer int) (<-chan model.StageEvent, func()) {
	return a.events.Subscribe(buffer)
}

// RunWorker consumes ingestion tasks from Kafka until ctx is done. With the local dispatcher the
// workers already run in process, so it only waits.
func (a *App) RunWorker(ctx context.Context) error {
	if a.consumer == nil {
		<-ctx.Done()
		return nil
	}
	return a.consumer.Run(ctx)
}

// Close 释放所有组件，先停止派发再关闭存储。
func (a *App) Close() error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		errs = append(errs, database.Close(a.db))
	}
	log.Info("[App] 所有组件已关闭")
	return errors.Join(errs...)
}
