package tools

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

// Signer jarsigner 签名
type Signer struct {
	runner Runner
	tool   string
	sign   config.SignData
	logger *logrus.Logger
}

// NewSigner 创建签名器, tool 为空时使用 PATH 中的 jarsigner
func NewSigner(runner Runner, tool string, sign config.SignData, logger *logrus.Logger) *Signer {
	return &Signer{
		runner: runner,
		tool:   orDefault(tool, "jarsigner"),
		sign:   sign,
		logger: logger,
	}
}

// Args 生成 jarsigner 参数
func (s *Signer) Args(src, dst string) []string {
	return []string{
		"-sigalg", "MD5withRSA",
		"-digestalg", "SHA1",
		"-keystore", s.sign.StoreFile,
		"-storepass", s.sign.StorePass,
		"-keypass", s.sign.KeyPass,
		"-signedjar", dst,
		src,
		s.sign.Alias,
	}
}

// Sign 签名 src 输出到 dst
func (s *Signer) Sign(ctx context.Context, src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale signed apk: %w", err)
	}

	start := time.Now()
	runErr := s.runner.Run(ctx, s.tool, s.Args(src, dst)...)

	if !domain.FileExists(dst) {
		if runErr != nil {
			return fmt.Errorf("%w: %s not produced: %v", domain.ErrSigningFailed, dst, runErr)
		}
		return fmt.Errorf("%w: %s not produced", domain.ErrSigningFailed, dst)
	}

	s.logger.WithFields(logrus.Fields{
		"input":       src,
		"output":      dst,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Signed apk")
	return nil
}
