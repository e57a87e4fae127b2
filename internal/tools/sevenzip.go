package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/archive"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

// SevenZip 使用 7-Zip 最高压缩率重新打包, 再写回必须 STORED 的条目
type SevenZip struct {
	runner Runner
	tool   string
	logger *logrus.Logger
}

func NewSevenZip(runner Runner, tool string, logger *logrus.Logger) *SevenZip {
	return &SevenZip{
		runner: runner,
		tool:   orDefault(tool, DefaultSevenZip()),
		logger: logger,
	}
}

// RepackageOptions 7z 重打包路径
type RepackageOptions struct {
	Signed  string // 已签名 apk
	Output  string // <apk>_signed_7zip.apk
	Scratch string // 解压目录
	Staging string // STORED 条目暂存目录
}

// Repackage 两遍打包: -mx9 压缩全部内容, -mx0 覆盖写入 STORED 条目
func (z *SevenZip) Repackage(ctx context.Context, opts RepackageOptions, table domain.CompressionTable) error {
	if !domain.FileExists(opts.Signed) {
		return fmt.Errorf("%w: %s", domain.ErrMissingSignedApk, opts.Signed)
	}

	start := time.Now()

	for _, dir := range []string{opts.Scratch, opts.Staging} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clean %s: %w", dir, err)
		}
	}
	if err := os.Remove(opts.Output); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale 7zip apk: %w", err)
	}

	if _, err := archive.Unzip(opts.Signed, opts.Scratch); err != nil {
		return fmt.Errorf("%w: unzip signed apk: %v", domain.ErrRepackageFailed, err)
	}

	entries, err := topLevel(opts.Scratch)
	if err != nil {
		return err
	}
	runErr := z.runner.Run(ctx, z.tool, z.args(opts.Output, entries, "-mx9")...)
	if !domain.FileExists(opts.Output) {
		return z.failed(opts.Output, runErr)
	}

	staged, err := stageStored(opts.Scratch, opts.Staging, table)
	if err != nil {
		return err
	}

	if staged > 0 {
		entries, err := topLevel(opts.Staging)
		if err != nil {
			return err
		}
		runErr = z.runner.Run(ctx, z.tool, z.args(opts.Output, entries, "-mx0")...)
		if !domain.FileExists(opts.Output) {
			return z.failed(opts.Output, runErr)
		}
	}

	z.logger.WithFields(logrus.Fields{
		"input":       opts.Signed,
		"output":      opts.Output,
		"stored":      staged,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Repackaged apk with 7zip")
	return nil
}

func (z *SevenZip) args(output string, entries []string, level string) []string {
	args := make([]string, 0, len(entries)+4)
	args = append(args, "a", "-tzip", output)
	args = append(args, entries...)
	return append(args, level)
}

func (z *SevenZip) failed(output string, runErr error) error {
	if runErr != nil {
		return fmt.Errorf("%w: %s not produced: %v", domain.ErrRepackageFailed, output, runErr)
	}
	return fmt.Errorf("%w: %s not produced", domain.ErrRepackageFailed, output)
}

// topLevel 返回目录第一层条目的绝对路径, 7z 以条目所在目录为根存储
func topLevel(dir string) ([]string, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(items))
	for _, item := range items {
		paths = append(paths, filepath.Join(dir, item.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// stageStored 将压缩表中 STORED 且实际存在的文件复制到暂存目录
func stageStored(scratch, staging string, table domain.CompressionTable) (int, error) {
	if err := os.MkdirAll(staging, 0755); err != nil {
		return 0, err
	}

	count := 0
	for _, name := range table.StoredPaths() {
		src := filepath.Join(scratch, filepath.FromSlash(name))
		if !domain.FileExists(src) {
			continue
		}
		if err := archive.CopyFile(src, filepath.Join(staging, filepath.FromSlash(name))); err != nil {
			return count, fmt.Errorf("failed to stage %s: %w", name, err)
		}
		count++
	}
	return count, nil
}
