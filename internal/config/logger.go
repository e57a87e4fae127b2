package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// InitLogger 初始化日志, 配置了 log.file 时同时写入文件
// 日志文件打开失败不影响启动, 只输出到 stdout
func InitLogger(cfg *LogConfig) *logrus.Logger {
	if cfg.File == "" {
		return newLogger(cfg, os.Stdout)
	}

	f, err := openLogFile(cfg.File)
	if err != nil {
		logger := newLogger(cfg, os.Stdout)
		logger.WithError(err).WithField("log_file", cfg.File).Warn("Failed to open log file, logging to stdout only")
		return logger
	}
	return newLogger(cfg, io.MultiWriter(os.Stdout, f))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func newLogger(cfg *LogConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(true)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  "2006-01-02 15:04:05",
			CallerPrettyfier: shortCaller,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "2006/01/02 15:04:05",
			CallerPrettyfier: shortCaller,
		})
	}

	return logger
}

// shortCaller 只保留 包目录/文件名:行号
func shortCaller(f *runtime.Frame) (string, string) {
	dir := filepath.Base(filepath.Dir(f.File))
	return "", fmt.Sprintf("%s/%s:%d", dir, filepath.Base(f.File), f.Line)
}
