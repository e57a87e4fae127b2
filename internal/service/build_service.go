package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/repository"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/worker"
)

var (
	ErrInvalidRequest  = errors.New("invalid build request")
	ErrBuildNotFound   = errors.New("build not found")
	ErrBuildInProgress = errors.New("another build is in progress for this output directory")
	ErrQueueFull       = errors.New("build queue is full")
)

// CreateBuildRequest 构建请求, CompressionTable 和 SourceAPK 二选一
type CreateBuildRequest struct {
	OutDir           string                  `json:"out_dir" binding:"required"`
	APKName          string                  `json:"apk_name" binding:"required"`
	CompressionTable domain.CompressionTable `json:"compression_table"`
	SourceAPK        string                  `json:"source_apk"`
}

// Validate 校验请求
func (r *CreateBuildRequest) Validate() error {
	if strings.TrimSpace(r.OutDir) == "" {
		return fmt.Errorf("%w: out_dir is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.APKName) == "" {
		return fmt.Errorf("%w: apk_name is required", ErrInvalidRequest)
	}
	if strings.ContainsAny(r.APKName, `/\`) {
		return fmt.Errorf("%w: apk_name must not contain path separators", ErrInvalidRequest)
	}
	if len(r.CompressionTable) > 0 && r.SourceAPK != "" {
		return fmt.Errorf("%w: compression_table and source_apk are mutually exclusive", ErrInvalidRequest)
	}
	return nil
}

// Submitter 构建任务队列
type Submitter interface {
	Submit(task *worker.Task) error
}

// BuildService 构建服务接口
type BuildService interface {
	// 创建构建并入队
	CreateBuild(ctx context.Context, req *CreateBuildRequest) (*domain.BuildRecord, error)

	GetBuild(ctx context.Context, id string) (*domain.BuildRecord, error)

	// 获取构建列表（分页，可按状态过滤）
	ListBuilds(ctx context.Context, page, pageSize int, status string) ([]*domain.BuildRecord, int64, error)

	// 删除已结束的构建记录
	DeleteBuild(ctx context.Context, id string) error

	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)

	// 服务重启后将排队中的构建重新入队
	RequeuePending(ctx context.Context) (int, error)
}

type buildService struct {
	repo    repository.BuildRepository
	queue   Submitter
	metrics *metrics.Metrics
	logger  *logrus.Logger

	// 串行化 "检查同目录构建 + 创建记录"
	mu sync.Mutex
}

// NewBuildService 创建构建服务
func NewBuildService(repo repository.BuildRepository, queue Submitter, m *metrics.Metrics, logger *logrus.Logger) BuildService {
	return &buildService{
		repo:    repo,
		queue:   queue,
		metrics: m,
		logger:  logger,
	}
}

func (s *buildService) CreateBuild(ctx context.Context, req *CreateBuildRequest) (*domain.BuildRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	outDir := filepath.Clean(req.OutDir)

	record := &domain.BuildRecord{
		ID:        uuid.New().String(),
		APKName:   req.APKName,
		OutDir:    outDir,
		SourceAPK: req.SourceAPK,
		Status:    domain.BuildStatusQueued,
	}
	if len(req.CompressionTable) > 0 {
		data, err := json.Marshal(req.CompressionTable)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		record.CompressionTable = string(data)
	}

	s.mu.Lock()
	active, err := s.repo.HasActiveBuild(ctx, outDir)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to check active builds: %w", err)
	}
	if active {
		s.mu.Unlock()
		s.logger.WithField("out_dir", outDir).Warn("Build rejected: output directory busy")
		return nil, fmt.Errorf("%w: %s", ErrBuildInProgress, outDir)
	}
	err = s.repo.Create(ctx, record)
	s.mu.Unlock()
	if err != nil {
		s.logger.WithError(err).Error("Failed to create build")
		return nil, fmt.Errorf("failed to create build: %w", err)
	}

	if err := s.queue.Submit(&worker.Task{ID: record.ID, OutDir: outDir}); err != nil {
		record.ApplyResult(nil, fmt.Errorf("%w: %v", ErrQueueFull, err))
		if updateErr := s.repo.Update(ctx, record); updateErr != nil {
			s.logger.WithError(updateErr).WithField("build_id", record.ID).Error("Failed to mark build as failed")
		}
		return nil, ErrQueueFull
	}
	s.metrics.RecordBuildQueued()

	s.logger.WithFields(logrus.Fields{
		"build_id": record.ID,
		"apk_name": record.APKName,
		"out_dir":  record.OutDir,
	}).Info("Build queued")
	return record, nil
}

func (s *buildService) GetBuild(ctx context.Context, id string) (*domain.BuildRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBuildNotFound
		}
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return record, nil
}

func (s *buildService) ListBuilds(ctx context.Context, page, pageSize int, status string) ([]*domain.BuildRecord, int64, error) {
	records, total, err := s.repo.ListWithPagination(ctx, page, pageSize, status)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list builds")
		return nil, 0, fmt.Errorf("failed to list builds: %w", err)
	}
	return records, total, nil
}

func (s *buildService) DeleteBuild(ctx context.Context, id string) error {
	record, err := s.GetBuild(ctx, id)
	if err != nil {
		return err
	}
	if !record.Status.IsTerminal() {
		return fmt.Errorf("%w: build %s is %s", ErrBuildInProgress, id, record.Status)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}
	s.logger.WithField("build_id", id).Info("Build deleted")
	return nil
}

func (s *buildService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	return s.repo.GetStatusCounts(ctx)
}

func (s *buildService) RequeuePending(ctx context.Context) (int, error) {
	records, err := s.repo.ListQueued(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, record := range records {
		if err := s.queue.Submit(&worker.Task{ID: record.ID, OutDir: record.OutDir}); err != nil {
			s.logger.WithError(err).WithField("build_id", record.ID).Warn("Failed to requeue build")
			break
		}
		count++
	}

	if count > 0 {
		s.logger.WithField("count", count).Info("Requeued pending builds")
	}
	return count, nil
}
