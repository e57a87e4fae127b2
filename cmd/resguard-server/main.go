package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/api"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/repository"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/service"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/watcher"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("ResGuard Build Server\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting ResGuard build server %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	conf, err := config.NewConfiguration(cfg.ResGuard, cfg.Tools)
	if err != nil {
		logger.Fatalf("Invalid resguard configuration: %v", err)
	}

	// 4. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")

	// 清理因服务重启而中断的构建
	if err := cleanupStuckBuilds(db, logger); err != nil {
		logger.WithError(err).Warn("Failed to cleanup stuck builds")
	}

	// 5. 初始化 Prometheus 指标
	promMetrics := metrics.New(logger, "resguard")

	// 6. 初始化 Worker Pool
	buildRepo := repository.NewBuildRepository(db, logger)
	orchestrator := worker.NewOrchestrator(buildRepo, conf, nil, promMetrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerPool := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, orchestrator, logger)
	workerPool.SetMetrics(promMetrics)
	workerPool.Start(ctx)
	logger.Infof("Worker pool started with %d workers", cfg.Worker.Concurrency)

	buildService := service.NewBuildService(buildRepo, workerPool, promMetrics, logger)

	// 7. 重新提交排队中的构建
	if n, err := buildService.RequeuePending(ctx); err != nil {
		logger.WithError(err).Warn("Failed to requeue pending builds")
	} else if n > 0 {
		logger.WithField("count", n).Info("Pending builds requeued")
	}

	// 8. 监控 mapping 文件
	if conf.UseKeepMapping {
		mappingWatcher, err := watcher.NewMappingWatcher(conf.MappingFile(), conf, logger)
		if err != nil {
			logger.WithError(err).Warn("Mapping watcher disabled")
		} else {
			mappingWatcher.SetMetrics(promMetrics)
			mappingWatcher.Start(ctx)
			defer mappingWatcher.Stop()
		}
	}

	// 9. 设置 HTTP Server
	router := api.SetupRouter(&cfg.Server, logger, buildService, promMetrics)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 10. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	// 停止接收新任务, 等待运行中的构建结束
	workerPool.Stop()
	cancel()

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// cleanupStuckBuilds 将上次运行中断的 running 构建标记为失败
// queued 状态的构建会重新提交, 不需要清理
func cleanupStuckBuilds(db *gorm.DB, logger *logrus.Logger) error {
	now := time.Now().UTC()
	result := db.Model(&domain.BuildRecord{}).
		Where("status = ?", domain.BuildStatusRunning).
		Updates(map[string]interface{}{
			"status":        domain.BuildStatusFailed,
			"error_message": "build interrupted by server restart",
			"completed_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update stuck builds: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		logger.WithField("count", result.RowsAffected).Warn("Marked stuck builds as failed due to server restart")
	}
	return nil
}
