package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

var mappingPattern = regexp.MustCompile(`\s+(.*)->(.*)`)

// ResKey 资源标识 pkg.R.type.name
type ResKey struct {
	Package string
	Type    string
	Name    string
}

// LegacyMapping 上一次构建的混淆映射
type LegacyMapping struct {
	Files     map[string]string // res/drawable/a.png -> r/a/a.png
	Resources map[ResKey]string // (com.app, string, app_name) -> a
}

// NewLegacyMapping 创建空映射
func NewLegacyMapping() *LegacyMapping {
	return &LegacyMapping{
		Files:     make(map[string]string),
		Resources: make(map[ResKey]string),
	}
}

// LookupFile 查询文件重命名
func (m *LegacyMapping) LookupFile(before string) (string, bool) {
	after, ok := m.Files[before]
	return after, ok
}

// LookupResource 查询资源名重命名
func (m *LegacyMapping) LookupResource(pkg, typ, name string) (string, bool) {
	after, ok := m.Resources[ResKey{Package: pkg, Type: typ, Name: name}]
	return after, ok
}

// ParseLegacyMapping 解析 mapping 文本, 每行形如 "    old -> new"
// 不匹配的行直接忽略
func ParseLegacyMapping(r io.Reader) (*LegacyMapping, error) {
	m := NewLegacyMapping()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		match := mappingPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		before := strings.TrimSpace(match[1])
		after := strings.TrimSpace(match[2])

		if strings.Contains(before, "/") {
			m.Files[before] = after
			continue
		}

		name, err := splitResName(before)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: it should be like com.tencent.mm.R.attr.test, yours %s: %v",
				domain.ErrMalformedMapping, lineNum, before, err)
		}

		// 新名字沿用旧名字中 .R. 的位置定位, 两侧保持位置对齐
		afterName := after[indexFrom(after, ".", name.offset)+1:]
		m.Resources[ResKey{Package: name.Package, Type: name.Type, Name: name.Name}] = afterName
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error while reading mapping file: %w", err)
	}

	return m, nil
}

// LoadLegacyMapping 读取并解析 mapping 文件
func LoadLegacyMapping(path string) (*LegacyMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w, raw path=%s", domain.ErrMissingMappingFile, path)
		}
		return nil, err
	}
	defer f.Close()

	return ParseLegacyMapping(f)
}
