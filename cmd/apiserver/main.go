package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopsync/internal/queue"
	"shopsync/internal/server/handlers/admin"
	"shopsync/internal/server/handlers/webhook"
	"shopsync/internal/server/routers"
	"shopsync/pkg/config"
	redisinfra "shopsync/pkg/infra/redis"
	"shopsync/pkg/lmstfy"
	"shopsync/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/apiserver.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 初始化 Redis
	rdb, err := redisinfra.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	// 4. 初始化 Lmstfy 与任务队列
	broker, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
	if err != nil {
		log.Fatalf("Failed to create lmstfy client: %v", err)
	}

	jobQueue := queue.New(broker, rdb, &queue.Config{
		Name:            cfg.Queue.Name,
		MaxAttempts:     cfg.Queue.MaxAttempts,
		BackoffBase:     cfg.Queue.BackoffBase,
		RatePerSecond:   cfg.Queue.RatePerSecond,
		DedupeRetention: cfg.Queue.DedupeRetention,
		CompletedKeep:   cfg.Queue.CompletedKeep,
		FailedKeep:      cfg.Queue.FailedKeep,
		RetentionMaxAge: cfg.Queue.RetentionMaxAge,
	}, zapLogger)

	// 5. 组装路由
	webhookHandler := webhook.NewHandler(jobQueue, cfg.Webhook.Secret, cfg.Queue.MaxAttempts, zapLogger)
	jobsHandler := admin.NewJobsHandler(jobQueue, zapLogger)
	engine := routers.SetupRoutes(webhookHandler, jobsHandler, zapLogger)

	// 6. 启动 HTTP Server（后台 goroutine）
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 7. 优雅停机处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Received shutdown signal, gracefully shutting down...")
		gracefulShutdown(server)
	case err := <-serverErrChan:
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Application stopped")
}

// gracefulShutdown 优雅停机
func gracefulShutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}
}
