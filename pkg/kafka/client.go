// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
	"resumerag-go/pkg/tasks"
)

// Producer 把 IngestTask 发送到 Kafka，实现 tasks.Dispatcher。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Dispatch 发送一个文档处理任务到 Kafka。以文档 id 作为 key，同一文档的任务落在同一分区。
func (p *Producer) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptCounter 记录任务失败次数，跨进程重启保留。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 使用 Redis 计数失败次数。
type RedisAttempts struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb, ttl: 24 * time.Hour}
}

func (a *RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, a.ttl).Err()
	return n, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 读取 IngestTask 并交给 Processor 处理。
type Consumer struct {
	reader      messageReader
	proc        tasks.Processor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer 创建一个消费组读者。attempts 为 nil 时失败任务只尝试一次。
func NewConsumer(cfg config.KafkaConfig, proc tasks.Processor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, proc, attempts, cfg.MaxAttempts)
}

func newConsumer(r messageReader, proc tasks.Processor, attempts AttemptCounter, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		reader:      r,
		proc:        proc,
		attempts:    attempts,
		maxAttempts: int64(maxAttempts),
		backoff:     time.Second,
	}
}

// Run 持续消费直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if err := c.handle(ctx, m); err != nil {
			return err
		}
	}
}

// handle 处理单条消息。成功或重试耗尽后提交 offset；返回 error 仅表示 ctx 已取消或提交失败。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.DocumentID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		return c.commit(ctx, m)
	}

	attemptsKey := "kafka:attempts:" + task.DocumentID
	for {
		err := c.proc.Process(ctx, task)
		if err == nil {
			log.Infof("文档任务处理成功: DocumentID=%s", task.DocumentID)
			if c.attempts != nil {
				c.resetAttempts(ctx, attemptsKey)
			}
			return c.commit(ctx, m)
		}
		if ctx.Err() != nil {
			// 不提交 offset，重启后重新投递
			return ctx.Err()
		}
		log.Errorf("处理文档任务失败: DocumentID=%s, Error: %v", task.DocumentID, err)

		if c.attempts == nil {
			return c.commit(ctx, m)
		}
		n, incErr := c.attempts.Incr(ctx, attemptsKey)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，等待重新投递
			log.Errorf("记录失败次数失败: %v", incErr)
			return incErr
		}
		if n >= c.maxAttempts {
			log.Errorf("文档任务多次失败(>=%d)，提交 offset 终止重试: DocumentID=%s", c.maxAttempts, task.DocumentID)
			c.resetAttempts(ctx, attemptsKey)
			return c.commit(ctx, m)
		}

		select {
		case <-time.After(c.backoff * time.Duration(n)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resetAttempts 清零失败计数。清零失败不影响提交，残留计数随 TTL 过期。
func (c *Consumer) resetAttempts(ctx context.Context, key string) {
	if err := c.attempts.Reset(ctx, key); err != nil {
		log.Errorf("清零失败次数失败: key=%s, Error: %v", key, err)
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		return err
	}
	return nil
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var _ tasks.Dispatcher = (*Producer)(nil)
