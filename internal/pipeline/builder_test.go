package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/config"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
)

// fakeRunner 按工具参数约定生成输出文件
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool // 不生成输出的工具
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.fail[name] {
		return errors.New("exit status 1")
	}

	switch name {
	case "jarsigner":
		return copyFile(args[12], args[11]) // -signedjar DST SRC
	case "zipalign":
		return copyFile(args[1], args[2])
	default:
		return os.WriteFile(args[2], []byte(name), 0644)
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func (f *fakeRunner) tools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c[0])
	}
	return names
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// setupOutDir 构造解码后的输出目录
func setupOutDir(t *testing.T) string {
	t.Helper()
	out := t.TempDir()
	writeTree(t, filepath.Join(out, domain.UnzipDirName), map[string]string{
		"AndroidManifest.xml":   "manifest",
		"classes.dex":           "dex",
		"META-INF/CERT.RSA":     "sig",
		"res/drawable/icon.png": "png",
		"resources.arsc":        "arsc",
	})
	writeTree(t, out, map[string]string{
		"r/a/a.png":      "png",
		"resources.arsc": "obfuscated",
	})
	return out
}

var testTable = domain.CompressionTable{
	"AndroidManifest.xml": domain.MethodDeflated,
	"classes.dex":         domain.MethodDeflated,
	"resources.arsc":      domain.MethodStored,
	"r/a/a.png":           domain.MethodStored,
}

func signingOptions() config.BuildOptions {
	return config.BuildOptions{
		SigningEnabled: true,
		Sign: config.SignData{
			StoreFile: "release.jks",
			StorePass: "sp",
			KeyPass:   "kp",
			Alias:     "release",
		},
		Tools: config.ToolPaths{SevenZip: "7z"},
	}
}

// TestBuild_SigningDisabled 测试不签名时只生成未签名包
func TestBuild_SigningDisabled(t *testing.T) {
	out := setupOutDir(t)
	runner := &fakeRunner{}

	result, err := NewBuilder(out, "app", config.BuildOptions{}, runner, testLogger()).Build(context.Background(), testTable)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{filepath.Join(out, "app_unsigned.apk")}, result.Outputs)
	assert.Equal(t, []string{filepath.Join(out, "app_unsigned.apk")}, result.Artifacts.Existing())
	assert.Empty(t, runner.tools())
	assert.False(t, result.Failed())

	for _, stage := range []domain.Stage{domain.StageSign, domain.StageSevenZip, domain.StageAlign} {
		sr, ok := result.Stage(stage)
		require.True(t, ok)
		assert.Equal(t, domain.StageStatusSkipped, sr.Status)
	}
}

// TestBuild_SignAndAlign 测试签名和对齐
func TestBuild_SignAndAlign(t *testing.T) {
	out := setupOutDir(t)
	runner := &fakeRunner{}

	result, err := NewBuilder(out, "app", signingOptions(), runner, testLogger()).Build(context.Background(), testTable)
	require.NoError(t, err)

	assert.Equal(t, []string{"jarsigner", "zipalign"}, runner.tools())
	assert.Equal(t, []string{
		filepath.Join(out, "app_unsigned.apk"),
		filepath.Join(out, "app_signed.apk"),
		filepath.Join(out, "app_signed_aligned.apk"),
	}, result.Outputs)

	sr, ok := result.Stage(domain.StageSevenZip)
	require.True(t, ok)
	assert.Equal(t, domain.StageStatusSkipped, sr.Status)
}

// TestBuild_SevenZip 测试 7zip 重打包后两个签名包都被对齐
func TestBuild_SevenZip(t *testing.T) {
	out := setupOutDir(t)
	runner := &fakeRunner{}
	opts := signingOptions()
	opts.Use7zip = true
	m := metrics.New(testLogger(), "pipeline_test")

	result, err := NewBuilder(out, "app", opts, runner, testLogger()).WithMetrics(m).Build(context.Background(), testTable)
	require.NoError(t, err)

	// 签名 -> 7z -mx9 -> 7z -mx0 -> 对齐两个包
	assert.Equal(t, []string{"jarsigner", "7z", "7z", "zipalign", "zipalign"}, runner.tools())

	align, ok := result.Stage(domain.StageAlign)
	require.True(t, ok)
	assert.Equal(t, []string{
		filepath.Join(out, "app_signed_aligned.apk"),
		filepath.Join(out, "app_signed_7zip_aligned.apk"),
	}, align.Outputs)
	assert.Len(t, result.Artifacts.Existing(), 5)

	// STORED 条目被暂存用于第二遍
	assert.FileExists(t, filepath.Join(out, domain.StoredDirName, "resources.arsc"))
	assert.FileExists(t, filepath.Join(out, domain.StoredDirName, "r", "a", "a.png"))
}

// TestBuild_RemovesPreviousArtifacts 测试上一次构建的产物不会遗留
func TestBuild_RemovesPreviousArtifacts(t *testing.T) {
	out := setupOutDir(t)
	writeTree(t, out, map[string]string{
		"app_signed.apk":                 "old",
		"app_signed_7zip.apk":            "old",
		"app_signed_aligned.apk":         "old",
		"app_signed_7zip_aligned.apk":    "old",
		domain.SevenZipDirName + "/x.so": "old",
		domain.StoredDirName + "/y.png":  "old",
	})

	result, err := NewBuilder(out, "app", config.BuildOptions{}, &fakeRunner{}, testLogger()).Build(context.Background(), testTable)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(out, "app_unsigned.apk")}, result.Artifacts.Existing())
	assert.NoDirExists(t, filepath.Join(out, domain.SevenZipDirName))
	assert.NoDirExists(t, filepath.Join(out, domain.StoredDirName))
}

// TestBuild_StaleSevenZipNotAligned 测试未启用 7zip 时旧的 7zip 包被清除而不是被对齐
func TestBuild_StaleSevenZipNotAligned(t *testing.T) {
	out := setupOutDir(t)
	writeTree(t, out, map[string]string{"app_signed_7zip.apk": "old"})
	runner := &fakeRunner{}

	result, err := NewBuilder(out, "app", signingOptions(), runner, testLogger()).Build(context.Background(), testTable)
	require.NoError(t, err)

	assert.Equal(t, []string{"jarsigner", "zipalign"}, runner.tools())
	assert.Equal(t, []string{
		filepath.Join(out, "app_unsigned.apk"),
		filepath.Join(out, "app_signed.apk"),
		filepath.Join(out, "app_signed_aligned.apk"),
	}, result.Artifacts.Existing())
}

// TestBuild_SevenZipWithoutSigning 测试配置错误在任何阶段之前返回
func TestBuild_SevenZipWithoutSigning(t *testing.T) {
	out := setupOutDir(t)
	runner := &fakeRunner{}

	result, err := NewBuilder(out, "app", config.BuildOptions{Use7zip: true}, runner, testLogger()).Build(context.Background(), testTable)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Empty(t, result.Stages)
	assert.NoFileExists(t, filepath.Join(out, "app_unsigned.apk"))
	assert.Empty(t, runner.tools())
}

// TestBuild_SignFailure 测试签名失败时停止后续阶段
func TestBuild_SignFailure(t *testing.T) {
	out := setupOutDir(t)
	runner := &fakeRunner{fail: map[string]bool{"jarsigner": true}}

	result, err := NewBuilder(out, "app", signingOptions(), runner, testLogger()).Build(context.Background(), testTable)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSigningFailed)

	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.StageSign, stageErr.Stage)
	assert.Equal(t, filepath.Join(out, "app_signed.apk"), stageErr.Path)

	assert.True(t, result.Failed())
	assert.Equal(t, []string{"jarsigner"}, runner.tools())
	_, aligned := result.Stage(domain.StageAlign)
	assert.False(t, aligned)
	// 未签名包保留
	assert.Equal(t, []string{filepath.Join(out, "app_unsigned.apk")}, result.Artifacts.Existing())
}

// TestBuild_AlignFailure 测试对齐失败
func TestBuild_AlignFailure(t *testing.T) {
	out := setupOutDir(t)
	runner := &fakeRunner{fail: map[string]bool{"zipalign": true}}

	result, err := NewBuilder(out, "app", signingOptions(), runner, testLogger()).Build(context.Background(), testTable)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlignmentFailed)

	sr, ok := result.Stage(domain.StageAlign)
	require.True(t, ok)
	assert.Equal(t, domain.StageStatusFailed, sr.Status)
	assert.Equal(t, domain.KindPostcondition, sr.ErrorKind)
}

// TestBuild_MissingResources 测试前置条件失败
func TestBuild_MissingResources(t *testing.T) {
	out := setupOutDir(t)
	require.NoError(t, os.RemoveAll(filepath.Join(out, "r")))

	result, err := NewBuilder(out, "app", signingOptions(), &fakeRunner{}, testLogger()).Build(context.Background(), testTable)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingResourceDir)

	sr, ok := result.Stage(domain.StageAssemble)
	require.True(t, ok)
	assert.Equal(t, domain.StageStatusFailed, sr.Status)
	assert.Equal(t, domain.KindPrecondition, sr.ErrorKind)
	assert.Empty(t, result.Outputs)
}

// TestBuild_KeepRoot 测试 keep_root 时使用 res 目录
func TestBuild_KeepRoot(t *testing.T) {
	out := setupOutDir(t)
	require.NoError(t, os.Rename(filepath.Join(out, "r"), filepath.Join(out, "res")))

	table := domain.CompressionTable{"res/a/a.png": domain.MethodStored}
	_, err := NewBuilder(out, "app", config.BuildOptions{KeepRoot: true}, &fakeRunner{}, testLogger()).Build(context.Background(), table)
	require.NoError(t, err)
}
