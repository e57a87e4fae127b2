package tools

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

// Alignment zipalign 对齐字节数
const Alignment = "4"

// Aligner zipalign 对齐
type Aligner struct {
	runner Runner
	tool   string
	logger *logrus.Logger
}

func NewAligner(runner Runner, tool string, logger *logrus.Logger) *Aligner {
	return &Aligner{
		runner: runner,
		tool:   orDefault(tool, "zipalign"),
		logger: logger,
	}
}

// Align 对齐 in 输出到 out
func (a *Aligner) Align(ctx context.Context, in, out string) error {
	if !domain.FileExists(in) {
		return fmt.Errorf("%w: %s", domain.ErrMissingInputArchive, in)
	}

	// zipalign 不覆盖已有文件
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale aligned apk: %w", err)
	}

	start := time.Now()
	runErr := a.runner.Run(ctx, a.tool, Alignment, in, out)

	if !domain.FileExists(out) {
		if runErr != nil {
			return fmt.Errorf("%w: %s not produced: %v", domain.ErrAlignmentFailed, out, runErr)
		}
		return fmt.Errorf("%w: %s not produced", domain.ErrAlignmentFailed, out)
	}

	a.logger.WithFields(logrus.Fields{
		"input":       in,
		"output":      out,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Aligned apk")
	return nil
}
