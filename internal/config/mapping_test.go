package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

// TestParseLegacyMapping_Resource 测试资源名映射
func TestParseLegacyMapping_Resource(t *testing.T) {
	m, err := ParseLegacyMapping(strings.NewReader("  com.app.R.string.app_name -> com.app.R.string.a\n"))
	require.NoError(t, err)

	after, ok := m.LookupResource("com.app", "string", "app_name")
	assert.True(t, ok)
	assert.Equal(t, "a", after)
	assert.Empty(t, m.Files)
}

// TestParseLegacyMapping_File 测试文件路径映射
func TestParseLegacyMapping_File(t *testing.T) {
	m, err := ParseLegacyMapping(strings.NewReader("  res/drawable/a.png -> res/drawable/b.png"))
	require.NoError(t, err)

	after, ok := m.LookupFile("res/drawable/a.png")
	assert.True(t, ok)
	assert.Equal(t, "res/drawable/b.png", after)
	assert.Empty(t, m.Resources)
}

// TestParseLegacyMapping_SkipsUnmatched 测试忽略不符合格式的行
func TestParseLegacyMapping_SkipsUnmatched(t *testing.T) {
	content := strings.Join([]string{
		"res path mapping:",
		"",
		"    res/drawable-hdpi-v4 -> r/a",
		"res id mapping:",
		"    com.app.R.drawable.icon -> com.app.R.drawable.a",
		"    com.app.R.id.title.sub -> com.app.R.id.b",
		"no arrow here",
		"com.app.R.string.x -> no leading space",
	}, "\n")

	m, err := ParseLegacyMapping(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"res/drawable-hdpi-v4": "r/a"}, m.Files)
	assert.Len(t, m.Resources, 2)

	after, ok := m.LookupResource("com.app", "drawable", "icon")
	assert.True(t, ok)
	assert.Equal(t, "a", after)

	// name 中的 "." 保留, type 只取到 .R. 之后的第一个 "."
	after, ok = m.LookupResource("com.app", "id", "title.sub")
	assert.True(t, ok)
	assert.Equal(t, "b", after)
}

// TestParseLegacyMapping_CRLF 测试 Windows 换行
func TestParseLegacyMapping_CRLF(t *testing.T) {
	m, err := ParseLegacyMapping(strings.NewReader("    com.app.R.color.red -> com.app.R.color.c\r\n"))
	require.NoError(t, err)

	after, ok := m.LookupResource("com.app", "color", "red")
	assert.True(t, ok)
	assert.Equal(t, "c", after)
}

// TestParseLegacyMapping_Malformed 测试缺少 .R. 的资源行
func TestParseLegacyMapping_Malformed(t *testing.T) {
	_, err := ParseLegacyMapping(strings.NewReader("    com.app.string.app_name -> a\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedMapping)
	assert.Contains(t, err.Error(), "line 1")

	_, err = ParseLegacyMapping(strings.NewReader("    com.app.R.string -> a\n"))
	assert.ErrorIs(t, err, domain.ErrMalformedMapping)
}

// TestParseLegacyMapping_OffsetAlignment 测试新名字按旧名字偏移截取
func TestParseLegacyMapping_OffsetAlignment(t *testing.T) {
	// 新旧包名长度不同时, 按旧名字的 .R. 偏移截取新名字
	m, err := ParseLegacyMapping(strings.NewReader("    com.app.R.string.name -> com.application.R.string.z\n"))
	require.NoError(t, err)

	after, ok := m.LookupResource("com.app", "string", "name")
	assert.True(t, ok)
	assert.Equal(t, "R.string.z", after)

	// 偏移超出新名字长度时取整个新名字
	m, err = ParseLegacyMapping(strings.NewReader("    com.example.app.R.string.name -> z\n"))
	require.NoError(t, err)
	after, _ = m.LookupResource("com.example.app", "string", "name")
	assert.Equal(t, "z", after)
}

// TestLoadLegacyMapping_Missing 测试文件不存在
func TestLoadLegacyMapping_Missing(t *testing.T) {
	_, err := LoadLegacyMapping(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, domain.ErrMissingMappingFile)
}

// TestLoadLegacyMapping_File 测试从文件读取
func TestLoadLegacyMapping_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resource_mapping.txt")
	require.NoError(t, os.WriteFile(path, []byte("    res/raw/a.ogg -> r/b/a.ogg\n"), 0644))

	m, err := LoadLegacyMapping(path)
	require.NoError(t, err)
	assert.Equal(t, "r/b/a.ogg", m.Files["res/raw/a.ogg"])
}
