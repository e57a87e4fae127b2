package domain

import (
	"encoding/json"
	"time"
)

// Stage 构建阶段
type Stage string

const (
	StageAssemble Stage = "assemble" // 生成未签名包
	StageSign     Stage = "sign"     // jarsigner 签名
	StageSevenZip Stage = "7zip"     // 7zip 极限压缩重打包
	StageAlign    Stage = "align"    // zipalign 对齐
)

// StageStatus 阶段状态
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// StageResult 单个阶段的执行结果
type StageResult struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Outputs    []string    `json:"outputs,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	ErrorKind  ErrorKind   `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BuildResult 一次构建的结果
type BuildResult struct {
	RunID       string         `json:"run_id"`
	Artifacts   BuildArtifacts `json:"artifacts"`
	Stages      []StageResult  `json:"stages"`
	Outputs     []string       `json:"outputs"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Stage 按名称查找阶段结果
func (r *BuildResult) Stage(stage Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// Failed 是否有阶段失败
func (r *BuildResult) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StageStatusFailed {
			return true
		}
	}
	return false
}

// BuildStatus 构建任务状态
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
)

// BuildRecord 构建记录 (数据库存储)
type BuildRecord struct {
	ID               string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	APKName          string      `json:"apk_name" gorm:"type:varchar(255);not null"`
	OutDir           string      `json:"out_dir" gorm:"type:varchar(1024);not null;index"`
	SourceAPK        string      `json:"source_apk,omitempty" gorm:"type:varchar(1024)"` // 从原始 APK 读取压缩表
	CompressionTable string      `json:"-" gorm:"type:longtext"`                         // 压缩表 JSON
	Status           BuildStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	ErrorKind        ErrorKind   `json:"error_kind,omitempty" gorm:"type:varchar(32)"`
	ErrorMessage     string      `json:"error_message,omitempty" gorm:"type:text"`
	Outputs          string      `json:"outputs" gorm:"type:text"` // JSON 数组
	Stages           string      `json:"stages" gorm:"type:text"`  // JSON 数组
	DurationMS       int64       `json:"duration_ms"`
	StartedAt        *time.Time  `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
	CreatedAt        time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (BuildRecord) TableName() string {
	return "build_records"
}

// ApplyResult 将构建结果写入记录
func (r *BuildRecord) ApplyResult(result *BuildResult, err error) {
	if result != nil {
		if outputs, e := json.Marshal(result.Outputs); e == nil {
			r.Outputs = string(outputs)
		}
		if stages, e := json.Marshal(result.Stages); e == nil {
			r.Stages = string(stages)
		}
		if !result.CompletedAt.IsZero() {
			r.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
		}
	}

	now := time.Now().UTC()
	r.CompletedAt = &now
	if err != nil {
		r.Status = BuildStatusFailed
		r.ErrorKind = KindOf(err)
		r.ErrorMessage = err.Error()
		return
	}
	r.Status = BuildStatusCompleted
	r.ErrorKind = KindNone
	r.ErrorMessage = ""
}

// OutputList 解析产物列表
func (r *BuildRecord) OutputList() []string {
	var outputs []string
	if r.Outputs == "" {
		return outputs
	}
	_ = json.Unmarshal([]byte(r.Outputs), &outputs)
	return outputs
}

// StageList 解析阶段结果
func (r *BuildRecord) StageList() []StageResult {
	var stages []StageResult
	if r.Stages == "" {
		return stages
	}
	_ = json.Unmarshal([]byte(r.Stages), &stages)
	return stages
}

// IsTerminal 是否已结束
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusCompleted || s == BuildStatusFailed
}
