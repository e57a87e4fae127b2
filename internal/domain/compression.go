package domain

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// CompressionMethod zip 条目压缩方式
type CompressionMethod uint16

const (
	MethodStored   CompressionMethod = CompressionMethod(zip.Store)   // 不压缩
	MethodDeflated CompressionMethod = CompressionMethod(zip.Deflate) // deflate 压缩
)

// String 返回压缩方式名称
func (m CompressionMethod) String() string {
	switch m {
	case MethodStored:
		return "stored"
	case MethodDeflated:
		return "deflated"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (m CompressionMethod) MarshalText() ([]byte, error) {
	switch m {
	case MethodStored, MethodDeflated:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("unsupported compression method %d", uint16(m))
	}
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (m *CompressionMethod) UnmarshalText(text []byte) error {
	method, err := ParseCompressionMethod(string(text))
	if err != nil {
		return err
	}
	*m = method
	return nil
}

// ParseCompressionMethod 解析压缩方式名称
func ParseCompressionMethod(s string) (CompressionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stored", "store", "0":
		return MethodStored, nil
	case "deflated", "deflate", "8":
		return MethodDeflated, nil
	default:
		return 0, fmt.Errorf("unknown compression method %q", s)
	}
}

// CompressionTable 条目路径 -> 压缩方式
// 路径使用 "/" 分隔, 相对于 APK 根目录
type CompressionTable map[string]CompressionMethod

// Method 查询条目压缩方式
func (t CompressionTable) Method(path string) (CompressionMethod, bool) {
	m, ok := t[path]
	return m, ok
}

// StoredPaths 返回所有 STORED 条目 (已排序)
func (t CompressionTable) StoredPaths() []string {
	var paths []string
	for p, m := range t {
		if m == MethodStored {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Paths 返回所有条目路径 (已排序)
func (t CompressionTable) Paths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Rename 按文件重命名表生成新表, 未出现在重命名表中的条目保持原路径
func (t CompressionTable) Rename(fileMapping map[string]string) CompressionTable {
	renamed := make(CompressionTable, len(t))
	for p, m := range t {
		if to, ok := fileMapping[p]; ok {
			renamed[to] = m
			continue
		}
		renamed[p] = m
	}
	return renamed
}

// Matcher 路径匹配器
type Matcher interface {
	Match(s string) bool
}

// ApplyCompressPatterns 命中任一规则的条目强制为 DEFLATED, 返回被修改的条目数
func (t CompressionTable) ApplyCompressPatterns(rules []Matcher) int {
	changed := 0
	for p, m := range t {
		if m == MethodDeflated {
			continue
		}
		for _, r := range rules {
			if r.Match(p) {
				t[p] = MethodDeflated
				changed++
				break
			}
		}
	}
	return changed
}

// WithoutPrefix 去掉指定目录下的条目 (如 META-INF/)
func (t CompressionTable) WithoutPrefix(dir string) CompressionTable {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	out := make(CompressionTable, len(t))
	for p, m := range t {
		if strings.HasPrefix(p, prefix) {
			continue
		}
		out[p] = m
	}
	return out
}

// LoadCompressionTable 从 JSON 文件读取压缩表
func LoadCompressionTable(path string) (CompressionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compression table: %w", err)
	}

	var table CompressionTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse compression table %s: %w", path, err)
	}
	if table == nil {
		table = CompressionTable{}
	}
	return table, nil
}

// SaveCompressionTable 将压缩表写入 JSON 文件
func SaveCompressionTable(path string, table CompressionTable) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
