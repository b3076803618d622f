package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shopsync/internal/business/reconcile"
	"shopsync/internal/domains/common"
	"shopsync/internal/queue"
	"shopsync/internal/repo"
	"shopsync/internal/worker"
	"shopsync/pkg/config"
	"shopsync/pkg/infra/mysql"
	redisinfra "shopsync/pkg/infra/redis"
	"shopsync/pkg/lmstfy"
	"shopsync/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  SHOPSYNC Worker Starting...")
	log.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 初始化 MySQL
	db, err := mysql.Open(cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to mysql: %v", err)
	}
	defer mysql.Close(db)

	if err := repo.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	// 4. 初始化 Redis
	rdb, err := redisinfra.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	// 5. 初始化 Lmstfy 与任务队列
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

	// 6. 组装对账引擎
	engine := reconcile.NewEngine(
		repo.NewStoreRepository(db),
		repo.NewVariantRepository(db),
		jobQueue,
		redisinfra.NewEventPublisher(rdb),
		zapLogger,
	)

	deps := &common.Deps{Engine: engine, Logger: zapLogger}

	// 7. 创建 Manager
	mgr, err := worker.NewManagerInstance(cfg, jobQueue, deps, zapLogger)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	// 8. 启动 Manager（goroutine）
	go func() {
		if err := mgr.Start(); err != nil {
			log.Fatalf("Manager start failed: %v", err)
		}
	}()

	log.Println("Worker started. Press Ctrl+C to shutdown.")

	// 9. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Worker...")
	log.Println("========================================")

	// 10. 优雅关闭 Manager
	mgr.Shutdown()

	fmt.Println("========================================")
	fmt.Println("  Worker exited gracefully")
	fmt.Println("========================================")
}
