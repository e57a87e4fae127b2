package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxLineSize = 1024 * 1024

// Runner 外部命令执行器
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner 直接 exec 子进程 (不经过 shell), 在 Wait 之前读完 stdout/stderr
type ExecRunner struct {
	logger  *logrus.Logger
	timeout time.Duration
}

// NewExecRunner 创建执行器, timeout 为 0 表示不限时
func NewExecRunner(logger *logrus.Logger, timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		logger:  logger,
		timeout: timeout,
	}
}

// Run 执行命令, 返回值仅表示退出状态, 是否成功由调用方检查产物决定
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	start := time.Now()
	r.logger.WithFields(logrus.Fields{
		"tool": name,
		"args": redact(args),
	}).Debug("Starting external tool")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	// 管道必须在 Wait 之前读到 EOF
	var g errgroup.Group
	g.Go(func() error { return r.drain(name, "stdout", stdout) })
	g.Go(func() error { return r.drain(name, "stderr", stderr) })
	drainErr := g.Wait()

	waitErr := cmd.Wait()

	fields := logrus.Fields{
		"tool":        name,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			fields["exit_code"] = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			fields["context"] = ctx.Err().Error()
		}
		r.logger.WithFields(fields).WithError(waitErr).Warn("External tool exited with error")
		return fmt.Errorf("%s: %w", name, waitErr)
	}

	if drainErr != nil {
		r.logger.WithFields(fields).WithError(drainErr).Warn("Failed to read tool output")
	}

	r.logger.WithFields(fields).Debug("External tool finished")
	return nil
}

// drain 逐行读取输出; 遇到超长行时丢弃剩余内容, 保证子进程不会阻塞在写管道上
func (r *ExecRunner) drain(name, stream string, rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		r.logger.WithFields(logrus.Fields{
			"tool":   name,
			"stream": stream,
		}).Debug(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, rd)
		return fmt.Errorf("%s %s: %w", name, stream, err)
	}
	return nil
}

// redact 隐藏口令参数
func redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		switch out[i] {
		case "-storepass", "-keypass":
			out[i+1] = "******"
			i++
		}
	}
	return out
}

// DefaultSevenZip 平台默认的 7-Zip 命令
func DefaultSevenZip() string {
	if runtime.GOOS == "windows" {
		return "7za"
	}
	return "7z"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
