package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"resumerag-go/internal/config"
	"resumerag-go/pkg/log"
)

// NewRedis 初始化 Redis 客户端连接并 Ping 一次
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
