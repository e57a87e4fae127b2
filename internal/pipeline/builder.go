package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/archive"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/tools"
)

// Builder 串行执行 生成未签名包 -> 签名 -> 7zip -> 对齐
type Builder struct {
	outDir  string
	apkName string
	opts    config.BuildOptions

	assembler *archive.Assembler
	signer    *tools.Signer
	aligner   *tools.Aligner
	sevenZip  *tools.SevenZip

	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewBuilder 创建构建器, runner 为 nil 时直接执行外部命令
func NewBuilder(outDir, apkName string, opts config.BuildOptions, runner tools.Runner, logger *logrus.Logger) *Builder {
	if runner == nil {
		runner = tools.NewExecRunner(logger, opts.Tools.Timeout)
	}
	if opts.MetaName == "" {
		opts.MetaName = domain.DefaultMetaName
	}

	return &Builder{
		outDir:    outDir,
		apkName:   apkName,
		opts:      opts,
		assembler: archive.NewAssembler(logger),
		signer:    tools.NewSigner(runner, opts.Tools.Jarsigner, opts.Sign, logger),
		aligner:   tools.NewAligner(runner, opts.Tools.Zipalign, logger),
		sevenZip:  tools.NewSevenZip(runner, opts.Tools.SevenZip, logger),
		logger:    logger,
	}
}

// WithMetrics 设置指标收集器
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Artifacts 本次构建的产物路径
func (b *Builder) Artifacts() domain.BuildArtifacts {
	return domain.NewBuildArtifacts(b.outDir, b.apkName)
}

// Build 执行构建, 任一阶段失败立即返回, 已生成的产物保留在磁盘上
func (b *Builder) Build(ctx context.Context, table domain.CompressionTable) (*domain.BuildResult, error) {
	artifacts := b.Artifacts()
	result := &domain.BuildResult{
		RunID:     uuid.New().String(),
		Artifacts: artifacts,
		StartedAt: time.Now(),
	}
	defer func() {
		result.CompletedAt = time.Now()
	}()

	logger := b.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"apk_name": b.apkName,
		"out_dir":  b.outDir,
	})

	if b.opts.Use7zip && !b.opts.SigningEnabled {
		err := fmt.Errorf("%w: 7zip repackaging requires a signature file", domain.ErrConfiguration)
		logger.WithError(err).Error("Invalid build configuration")
		return result, err
	}

	// 文件存在即阶段完成, 上一次构建的产物必须先清除
	if err := cleanArtifacts(artifacts); err != nil {
		err = domain.NewStageError(domain.StageAssemble, artifacts.OutDir, fmt.Errorf("%w: %v", domain.ErrArchiveWrite, err))
		logger.WithError(err).Error("Failed to remove previous artifacts")
		return result, err
	}

	logger.WithFields(logrus.Fields{
		"signing": b.opts.SigningEnabled,
		"use_7z":  b.opts.Use7zip,
		"entries": len(table),
	}).Info("Build started")

	err := b.runStage(ctx, result, logger, domain.StageAssemble, artifacts.Unsigned, func(ctx context.Context) ([]string, error) {
		out, err := b.assembler.AssembleUnsigned(ctx, archive.AssembleOptions{
			IntermediateDir: artifacts.IntermediateDir,
			ResDir:          b.opts.ResDirFor(b.outDir),
			ResourceTable:   filepath.Join(b.outDir, domain.ResourceTableName),
			MetaName:        b.opts.MetaName,
			Output:          artifacts.Unsigned,
		}, table)
		return []string{out}, err
	})
	if err != nil {
		return result, err
	}

	if !b.opts.SigningEnabled {
		b.skip(result, logger, domain.StageSign, "signing disabled")
		b.skip(result, logger, domain.StageSevenZip, "signing disabled")
		b.skip(result, logger, domain.StageAlign, "signing disabled")
		logger.WithField("outputs", result.Outputs).Info("Build completed")
		return result, nil
	}

	err = b.runStage(ctx, result, logger, domain.StageSign, artifacts.Signed, func(ctx context.Context) ([]string, error) {
		return []string{artifacts.Signed}, b.signer.Sign(ctx, artifacts.Unsigned, artifacts.Signed)
	})
	if err != nil {
		return result, err
	}

	if b.opts.Use7zip {
		err = b.runStage(ctx, result, logger, domain.StageSevenZip, artifacts.Signed7Zip, func(ctx context.Context) ([]string, error) {
			return []string{artifacts.Signed7Zip}, b.sevenZip.Repackage(ctx, tools.RepackageOptions{
				Signed:  artifacts.Signed,
				Output:  artifacts.Signed7Zip,
				Scratch: artifacts.SevenZipScratchDir,
				Staging: artifacts.StoredStagingDir,
			}, table)
		})
		if err != nil {
			return result, err
		}
	} else {
		b.skip(result, logger, domain.StageSevenZip, "7zip disabled")
	}

	err = b.runStage(ctx, result, logger, domain.StageAlign, artifacts.Aligned, func(ctx context.Context) ([]string, error) {
		return b.alignAll(ctx, artifacts)
	})
	if err != nil {
		return result, err
	}

	logger.WithField("outputs", result.Outputs).Info("Build completed")
	return result, nil
}

// alignAll 对齐磁盘上存在的所有已签名包
func (b *Builder) alignAll(ctx context.Context, artifacts domain.BuildArtifacts) ([]string, error) {
	pairs := [][2]string{
		{artifacts.Signed, artifacts.Aligned},
		{artifacts.Signed7Zip, artifacts.Aligned7Zip},
	}

	var outputs []string
	for _, p := range pairs {
		in, out := p[0], p[1]
		if !domain.FileExists(in) {
			continue
		}
		if err := b.aligner.Align(ctx, in, out); err != nil {
			return outputs, domain.NewStageError(domain.StageAlign, out, err)
		}
		outputs = append(outputs, out)
	}

	if len(outputs) == 0 {
		return nil, domain.NewStageError(domain.StageAlign, artifacts.Signed, domain.ErrNoSignedArtifact)
	}
	return outputs, nil
}

// cleanArtifacts 删除所有 APK 产物以及 7zip 的临时目录
func cleanArtifacts(artifacts domain.BuildArtifacts) error {
	for _, p := range artifacts.Archives() {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	for _, dir := range []string{artifacts.SevenZipScratchDir, artifacts.StoredStagingDir} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}

// runStage 执行单个阶段并记录结果, 成功后再次确认产物存在
func (b *Builder) runStage(ctx context.Context, result *domain.BuildResult, logger *logrus.Entry, stage domain.Stage, path string, fn func(context.Context) ([]string, error)) error {
	start := time.Now()
	logger = logger.WithField("stage", stage)
	logger.Debug("Stage started")

	outputs, err := fn(ctx)
	if err == nil {
		err = verifyOutputs(stage, outputs)
	}
	if err != nil {
		var stageErr *domain.StageError
		if !errors.As(err, &stageErr) {
			err = domain.NewStageError(stage, path, err)
		}
	}

	sr := domain.StageResult{
		Stage:      stage,
		Status:     domain.StageStatusSuccess,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		sr.Status = domain.StageStatusFailed
		sr.ErrorKind = domain.KindOf(err)
		sr.Error = err.Error()
	} else {
		sr.Outputs = outputs
		result.Outputs = append(result.Outputs, outputs...)
	}
	result.Stages = append(result.Stages, sr)
	b.metrics.RecordStage(string(stage), string(sr.Status), time.Since(start))

	fields := logrus.Fields{
		"status":      sr.Status,
		"duration_ms": sr.DurationMS,
	}
	if err != nil {
		logger.WithFields(fields).WithField("error_kind", sr.ErrorKind).WithError(err).Error("Stage failed")
		return err
	}
	logger.WithFields(fields).WithField("outputs", outputs).Info("Stage completed")
	return nil
}

func (b *Builder) skip(result *domain.BuildResult, logger *logrus.Entry, stage domain.Stage, reason string) {
	result.Stages = append(result.Stages, domain.StageResult{
		Stage:  stage,
		Status: domain.StageStatusSkipped,
	})
	b.metrics.RecordStage(string(stage), string(domain.StageStatusSkipped), 0)
	logger.WithFields(logrus.Fields{
		"stage":  stage,
		"reason": reason,
	}).Debug("Stage skipped")
}

// verifyOutputs 阶段报告成功后产物必须存在
func verifyOutputs(stage domain.Stage, outputs []string) error {
	for _, p := range outputs {
		if !domain.FileExists(p) {
			return domain.NewStageError(stage, p, postcondition(stage))
		}
	}
	return nil
}

func postcondition(stage domain.Stage) error {
	switch stage {
	case domain.StageSign:
		return domain.ErrSigningFailed
	case domain.StageSevenZip:
		return domain.ErrRepackageFailed
	case domain.StageAlign:
		return domain.ErrAlignmentFailed
	default:
		return domain.ErrAssemblyVerification
	}
}
