package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/archive"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/pipeline"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/repository"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/tools"
)

// Orchestrator 执行已入库的构建记录
type Orchestrator struct {
	repo    repository.BuildRepository
	cfg     *config.Configuration
	runner  tools.Runner
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewOrchestrator 创建编排器
// runner: 外部命令执行器, 传 nil 则直接 exec
func NewOrchestrator(repo repository.BuildRepository, cfg *config.Configuration, runner tools.Runner, m *metrics.Metrics, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		cfg:     cfg,
		runner:  runner,
		metrics: m,
		logger:  logger,
	}
}

// ExecuteBuild 执行构建并写回结果
func (o *Orchestrator) ExecuteBuild(ctx context.Context, buildID string) error {
	record, err := o.repo.FindByID(ctx, buildID)
	if err != nil {
		return fmt.Errorf("failed to load build %s: %w", buildID, err)
	}

	if record.Status.IsTerminal() {
		o.logger.WithFields(logrus.Fields{
			"build_id": buildID,
			"status":   record.Status,
		}).Warn("Build already finished, skipping")
		return nil
	}

	if err := o.repo.MarkRunning(ctx, buildID); err != nil {
		return fmt.Errorf("failed to mark build running: %w", err)
	}
	o.metrics.RecordBuildStarted()
	start := time.Now()

	var result *domain.BuildResult
	table, err := o.loadTable(record)
	if err == nil {
		builder := pipeline.NewBuilder(record.OutDir, record.APKName, o.cfg.BuildOptions(), o.runner, o.logger).
			WithMetrics(o.metrics)
		result, err = builder.Build(ctx, table)
	}

	record.ApplyResult(result, err)
	if record.DurationMS == 0 {
		record.DurationMS = time.Since(start).Milliseconds()
	}
	o.metrics.RecordBuildFinished(string(record.Status), time.Since(start))

	// 构建已结束, 使用独立 context 保证结果落库
	if updateErr := o.repo.Update(context.WithoutCancel(ctx), record); updateErr != nil {
		o.logger.WithError(updateErr).WithField("build_id", buildID).Error("Failed to save build result")
	}

	return err
}

// loadTable 从原始 APK 或请求中的 JSON 得到压缩表
func (o *Orchestrator) loadTable(record *domain.BuildRecord) (domain.CompressionTable, error) {
	if record.SourceAPK != "" {
		source, err := archive.ResolveSourceAPK(record.SourceAPK)
		if err != nil {
			return nil, err
		}
		table, err := archive.ReadCompressionTable(source)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfiguration, source, err)
		}
		if mappingErr := o.cfg.MappingError(); o.cfg.UseKeepMapping && mappingErr != nil {
			o.logger.WithError(mappingErr).WithFields(logrus.Fields{
				"build_id":     record.ID,
				"mapping_file": o.cfg.MappingFile(),
			}).Warn("Mapping file failed to reload, building with the previous mapping")
		}
		return o.cfg.PrepareCompressionTable(table), nil
	}

	table := domain.CompressionTable{}
	if record.CompressionTable == "" {
		return table, nil
	}
	if err := json.Unmarshal([]byte(record.CompressionTable), &table); err != nil {
		return nil, fmt.Errorf("%w: invalid compression table: %v", domain.ErrConfiguration, err)
	}
	return table, nil
}
