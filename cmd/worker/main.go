// Package main 是后台导入进程的入口点：消费导入任务，并在启动时导入种子目录中的简历。
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"resumerag-go/internal/app"
	"resumerag-go/internal/config"
	"resumerag-go/internal/service"
	"resumerag-go/pkg/log"
)

func main() {
	configPath := flag.String("config", envOr("RESUMERAG_CONFIG", "./configs/config.yaml"), "path to config.yaml")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化所有组件
	application, err := app.New(ctx, &cfg)
	if err != nil {
		log.Fatal("初始化失败", err)
	}

	// 4. 导入种子目录（幂等，重复内容按 MD5 去重）
	if cfg.Ingest.SeedDir != "" {
		go initSeedFiles(ctx, cfg.Ingest.SeedDir, application)
	}

	// 5. 启动后台消费者，直到收到停机信号
	log.Infof("Worker 已启动, dispatcher: %s", cfg.Ingest.Dispatcher)
	if err := application.RunWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Worker 异常退出: %v", err)
	}
	log.Info("接收到停机信号，正在关闭服务...")

	closed := make(chan error, 1)
	go func() { closed <- application.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			log.Errorf("关闭组件失败: %v", err)
		}
	case <-time.After(10 * time.Second):
		log.Warnf("关闭组件超时")
	}
	log.Info("服务已优雅关闭")
}

// initSeedFiles 扫描目录下文件并通过标准导入流程提交，归属 owner 0。
func initSeedFiles(ctx context.Context, dir string, application *app.App) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("initSeedFiles: 读取文件失败: %s, err=%v", path, err)
			return nil
		}
		docs, err := application.Submit(ctx, service.Upload{FileName: d.Name(), Data: data})
		if err != nil {
			log.Warnf("initSeedFiles: 提交失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("initSeedFiles: 已提交: %s, 文档数: %d", d.Name(), len(docs))
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		log.Warnf("initSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
