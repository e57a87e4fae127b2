package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/service"
)

// BuildHandler 构建处理器
type BuildHandler struct {
	buildService service.BuildService
	logger       *logrus.Logger
}

// NewBuildHandler 创建构建处理器实例
func NewBuildHandler(buildService service.BuildService, logger *logrus.Logger) *BuildHandler {
	return &BuildHandler{
		buildService: buildService,
		logger:       logger,
	}
}

// BuildView 构建详情
type BuildView struct {
	ID           string               `json:"id"`
	APKName      string               `json:"apk_name"`
	OutDir       string               `json:"out_dir"`
	SourceAPK    string               `json:"source_apk,omitempty"`
	Status       domain.BuildStatus   `json:"status"`
	ErrorKind    domain.ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Outputs      []string             `json:"outputs"`
	Stages       []domain.StageResult `json:"stages"`
	DurationMS   int64                `json:"duration_ms"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
}

func newBuildView(r *domain.BuildRecord) BuildView {
	return BuildView{
		ID:           r.ID,
		APKName:      r.APKName,
		OutDir:       r.OutDir,
		SourceAPK:    r.SourceAPK,
		Status:       r.Status,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		Outputs:      r.OutputList(),
		Stages:       r.StageList(),
		DurationMS:   r.DurationMS,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		CreatedAt:    r.CreatedAt,
	}
}

// CreateBuild 创建构建
// POST /api/builds {"out_dir": "...", "apk_name": "...", "compression_table": {...}}
func (h *BuildHandler) CreateBuild(c *gin.Context) {
	var req service.CreateBuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.buildService.CreateBuild(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     record.ID,
		"status": record.Status,
	})
}

// GetBuild 获取构建详情
// GET /api/builds/:id
func (h *BuildHandler) GetBuild(c *gin.Context) {
	record, err := h.buildService.GetBuild(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, newBuildView(record))
}

// ListBuilds 获取构建列表
// GET /api/builds?page=1&page_size=20&status=failed
func (h *BuildHandler) ListBuilds(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	records, total, err := h.buildService.ListBuilds(c.Request.Context(), page, pageSize, c.Query("status"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list builds")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list builds"})
		return
	}

	views := make([]BuildView, 0, len(records))
	for _, r := range records {
		views = append(views, newBuildView(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"builds":    views,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// DeleteBuild 删除构建记录
// DELETE /api/builds/:id
func (h *BuildHandler) DeleteBuild(c *gin.Context) {
	if err := h.buildService.DeleteBuild(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetStats 构建状态统计
// GET /api/builds/stats
func (h *BuildHandler) GetStats(c *gin.Context) {
	counts, total, err := h.buildService.GetStatusCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get build stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get build stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"status": counts,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBuildNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
