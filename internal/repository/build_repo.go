package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

// BuildRepository 构建记录仓库
type BuildRepository interface {
	Create(ctx context.Context, record *domain.BuildRecord) error
	Update(ctx context.Context, record *domain.BuildRecord) error
	FindByID(ctx context.Context, id string) (*domain.BuildRecord, error)
	// 标记开始执行
	MarkRunning(ctx context.Context, id string) error
	ListWithPagination(ctx context.Context, page, pageSize int, status string) ([]*domain.BuildRecord, int64, error)
	// 同一输出目录是否有未结束的构建
	HasActiveBuild(ctx context.Context, outDir string) (bool, error)
	// 获取所有排队中的构建, 服务重启后重新入队
	ListQueued(ctx context.Context) ([]*domain.BuildRecord, error)
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	Delete(ctx context.Context, id string) error
}

type buildRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewBuildRepository(db *gorm.DB, logger *logrus.Logger) BuildRepository {
	return &buildRepo{
		db:     db,
		logger: logger,
	}
}

func (r *buildRepo) Create(ctx context.Context, record *domain.BuildRecord) error {
	if record.Status == "" {
		record.Status = domain.BuildStatusQueued
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *buildRepo) Update(ctx context.Context, record *domain.BuildRecord) error {
	err := r.db.WithContext(ctx).
		Model(record).
		Select("status", "error_kind", "error_message", "outputs", "stages",
			"duration_ms", "completed_at").
		Updates(record).Error

	if err != nil {
		r.logger.WithError(err).WithField("build_id", record.ID).Error("Build update failed")
	}
	return err
}

func (r *buildRepo) FindByID(ctx context.Context, id string) (*domain.BuildRecord, error) {
	var record domain.BuildRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *buildRepo) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.BuildRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.BuildStatusRunning,
			"started_at": &now,
		}).Error
}

func (r *buildRepo) ListWithPagination(ctx context.Context, page, pageSize int, status string) ([]*domain.BuildRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.BuildRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []*domain.BuildRecord
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

func (r *buildRepo) HasActiveBuild(ctx context.Context, outDir string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.BuildRecord{}).
		Where("out_dir = ? AND status IN ?", outDir,
			[]domain.BuildStatus{domain.BuildStatusQueued, domain.BuildStatusRunning}).
		Count(&count).Error
	return count > 0, err
}

func (r *buildRepo) ListQueued(ctx context.Context) ([]*domain.BuildRecord, error) {
	var records []*domain.BuildRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.BuildStatusQueued).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// GetStatusCounts 获取各状态构建数量
func (r *buildRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&domain.BuildRecord{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		r.logger.WithError(err).Error("Failed to get status counts")
		return nil, 0, err
	}

	counts := map[string]int64{
		string(domain.BuildStatusQueued):    0,
		string(domain.BuildStatusRunning):   0,
		string(domain.BuildStatusCompleted): 0,
		string(domain.BuildStatusFailed):    0,
	}

	var total int64
	for _, res := range results {
		counts[res.Status] = res.Count
		total += res.Count
	}
	return counts, total, nil
}

func (r *buildRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.BuildRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
