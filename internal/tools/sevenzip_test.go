package tools

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func repackageOptions(dir string) RepackageOptions {
	return RepackageOptions{
		Signed:  filepath.Join(dir, "app_signed.apk"),
		Output:  filepath.Join(dir, "app_signed_7zip.apk"),
		Scratch: filepath.Join(dir, domain.SevenZipDirName),
		Staging: filepath.Join(dir, domain.StoredDirName),
	}
}

// TestSevenZip_Repackage 测试两遍打包参数和 STORED 条目暂存
func TestSevenZip_Repackage(t *testing.T) {
	dir := t.TempDir()
	opts := repackageOptions(dir)
	writeZip(t, opts.Signed, map[string]string{
		"classes.dex":          "dex",
		"resources.arsc":       "arsc",
		"r/a/a.png":            "png",
		"META-INF/MANIFEST.MF": "mf",
	})
	table := domain.CompressionTable{
		"classes.dex":    domain.MethodDeflated,
		"resources.arsc": domain.MethodStored,
		"r/a/a.png":      domain.MethodStored,
		"r/z/gone.png":   domain.MethodStored,
	}

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "/usr/bin/7z", []string{
		"a", "-tzip", opts.Output,
		filepath.Join(opts.Scratch, "META-INF"),
		filepath.Join(opts.Scratch, "classes.dex"),
		filepath.Join(opts.Scratch, "r"),
		filepath.Join(opts.Scratch, "resources.arsc"),
		"-mx9",
	}).Run(produce(opts.Output)).Return(nil).Once()
	runner.On("Run", mock.Anything, "/usr/bin/7z", []string{
		"a", "-tzip", opts.Output,
		filepath.Join(opts.Staging, "r"),
		filepath.Join(opts.Staging, "resources.arsc"),
		"-mx0",
	}).Return(nil).Once()

	err := NewSevenZip(runner, "/usr/bin/7z", testLogger()).Repackage(context.Background(), opts, table)
	require.NoError(t, err)
	runner.AssertExpectations(t)

	// 只暂存 STORED 且存在的条目
	assert.FileExists(t, filepath.Join(opts.Staging, "resources.arsc"))
	assert.FileExists(t, filepath.Join(opts.Staging, "r", "a", "a.png"))
	assert.NoFileExists(t, filepath.Join(opts.Staging, "classes.dex"))
	assert.NoFileExists(t, filepath.Join(opts.Staging, "r", "z", "gone.png"))
}

// TestSevenZip_NoStoredEntries 测试没有 STORED 条目时跳过第二遍
func TestSevenZip_NoStoredEntries(t *testing.T) {
	dir := t.TempDir()
	opts := repackageOptions(dir)
	writeZip(t, opts.Signed, map[string]string{"classes.dex": "dex"})

	runner := new(MockRunner)
	runner.On("Run", mock.Anything, "7z", mock.Anything).Run(produce(opts.Output)).Return(nil).Once()

	err := NewSevenZip(runner, "7z", testLogger()).Repackage(context.Background(), opts, domain.CompressionTable{})
	require.NoError(t, err)
	runner.AssertNumberOfCalls(t, "Run", 1)
}

// TestSevenZip_MissingSigned 测试缺少签名包
func TestSevenZip_MissingSigned(t *testing.T) {
	opts := repackageOptions(t.TempDir())
	runner := new(MockRunner)

	err := NewSevenZip(runner, "7z", testLogger()).Repackage(context.Background(), opts, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingSignedApk)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

// TestSevenZip_Unavailable 测试 7z 未安装
func TestSevenZip_Unavailable(t *testing.T) {
	dir := t.TempDir()
	opts := repackageOptions(dir)
	writeZip(t, opts.Signed, map[string]string{"classes.dex": "dex"})
	require.NoError(t, os.WriteFile(opts.Output, []byte("stale"), 0644))

	sz := NewSevenZip(NewExecRunner(testLogger(), 0), filepath.Join(dir, "no-such-7z"), testLogger())
	err := sz.Repackage(context.Background(), opts, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRepackageFailed)
	assert.Contains(t, err.Error(), "7z")
	assert.NoFileExists(t, opts.Output)
}
