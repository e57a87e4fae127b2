package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad 测试 YAML 配置加载
func TestLoad(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "config.yaml"), `
log:
  level: debug
  format: json
resguard:
  sign_file: ./release.jks
  alias: release
  white_list:
    - com.app.R.drawable.ic_*
    - com.app.R.string.*
  compress:
    - "*.png"
  use_7zip: true
tools:
  zipalign: /opt/android/zipalign
  timeout_seconds: 600
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./release.jks", cfg.ResGuard.SignFile)
	assert.Equal(t, []string{"com.app.R.drawable.ic_*", "com.app.R.string.*"}, cfg.ResGuard.WhiteList)
	assert.Equal(t, []string{"*.png"}, cfg.ResGuard.Compress)
	assert.True(t, cfg.ResGuard.Use7zip)
	assert.Equal(t, "META-INF", cfg.ResGuard.MetaName)
	assert.Equal(t, "/opt/android/zipalign", cfg.Tools.Zipalign)
	assert.Equal(t, 600, cfg.Tools.TimeoutSeconds)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

// TestLoad_EnvOverride 测试环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "config.yaml"), "resguard:\n  alias: release\n")
	t.Setenv("RESGUARD_STORE_PASS", "secret")
	t.Setenv("RESGUARD_TOOLS_SEVEN_ZIP", "/usr/bin/7za")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.ResGuard.StorePass)
	assert.Equal(t, "/usr/bin/7za", cfg.Tools.SevenZip)
}

// TestLoad_Missing 测试配置文件不存在
func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestInitLogger 测试日志初始化
func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&LogConfig{Level: "warn", Format: "json"}, &buf)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.WithField("stage", "sign").Warn("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"stage":"sign"`)

	logger = newLogger(&LogConfig{Level: "nonsense"}, &buf)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

// TestInitLogger_File 测试日志同时写入文件
func TestInitLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "resguard.log")
	logger := InitLogger(&LogConfig{Level: "info", Format: "json", File: path})

	logger.WithField("build_id", "b-1").Info("Build started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"build_id":"b-1"`)
	assert.Contains(t, string(data), `"file":"config/config_test.go:`)
}

// TestShortCaller 测试调用者路径裁剪
func TestShortCaller(t *testing.T) {
	fn, file := shortCaller(&runtime.Frame{File: "/src/resguard/internal/archive/assembler.go", Line: 42})
	assert.Empty(t, fn)
	assert.Equal(t, "archive/assembler.go:42", file)
}
