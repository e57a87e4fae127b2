package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/api/handlers"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/middleware"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/service"
)

func SetupRouter(cfg *config.ServerConfig, logger *logrus.Logger, buildService service.BuildService, promMetrics *metrics.Metrics) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))

	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	buildHandler := handlers.NewBuildHandler(buildService, logger)

	// 接口可以写任意 out_dir 并读取任意 source_apk
	if cfg.APIToken == "" {
		logger.Warn("server.api_token is empty, build API is open to unauthenticated clients")
	}

	v1 := r.Group("/api")
	v1.Use(middleware.AuthMiddleware(cfg.APIToken))
	{
		v1.POST("/builds", buildHandler.CreateBuild)
		v1.GET("/builds", buildHandler.ListBuilds)
		v1.GET("/builds/stats", buildHandler.GetStats)
		v1.GET("/builds/:id", buildHandler.GetBuild)
		v1.DELETE("/builds/:id", buildHandler.DeleteBuild)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}
