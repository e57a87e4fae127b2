package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/pattern"
)

// CountFiles 递归统计目录下的普通文件数量 (不含目录)
func CountFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CopyFile 复制文件, 自动创建父目录
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Unzip 解压到目标目录, 返回解压出的文件数
func Unzip(src, dst string) (int, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dst, 0755); err != nil {
		return 0, err
	}

	count := 0
	for _, f := range reader.File {
		target, err := safeJoin(dst, f.Name)
		if err != nil {
			return count, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return count, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		count++
	}
	return count, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// safeJoin 防止 ../ 条目写出目标目录
func safeJoin(dst, name string) (string, error) {
	target := filepath.Join(dst, filepath.FromSlash(name))
	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}
	return target, nil
}

// ReadCompressionTable 读取 APK 中每个条目的压缩方式
func ReadCompressionTable(apkPath string) (domain.CompressionTable, error) {
	reader, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	table := make(domain.CompressionTable, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch f.Method {
		case zip.Store:
			table[f.Name] = domain.MethodStored
		default:
			table[f.Name] = domain.MethodDeflated
		}
	}
	return table, nil
}

// ResolveSourceAPK 解析原始 APK 路径, 文件名部分可以使用 * 和 ? 通配符
// 通配符必须恰好匹配一个文件
func ResolveSourceAPK(path string) (string, error) {
	dir, glob := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	if !strings.ContainsAny(glob, "*?") {
		if !domain.FileExists(path) {
			return "", fmt.Errorf("%w: %s does not exist", domain.ErrNoSourceApk, path)
		}
		return path, nil
	}

	matched, err := pattern.SearchDir(filepath.Clean(dir), glob)
	if errors.Is(err, pattern.ErrInvalidPattern) {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNoSourceApk, err)
	}

	switch len(matched) {
	case 0:
		return "", fmt.Errorf("%w: nothing matches %s", domain.ErrNoSourceApk, path)
	case 1:
		return matched[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d apk files: %s",
			domain.ErrConfiguration, path, len(matched), strings.Join(matched, ", "))
	}
}
