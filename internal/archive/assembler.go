package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
)

// AssembleOptions 生成未签名包所需路径
type AssembleOptions struct {
	IntermediateDir string // 解码阶段的解压目录 <out>/temp
	ResDir          string // 混淆后的资源目录
	ResourceTable   string // 混淆后的 resources.arsc
	MetaName        string // 签名信息目录名, 默认 META-INF
	Output          string // 未签名包路径
}

// Assembler 未签名包生成器
type Assembler struct {
	logger *logrus.Logger
	level  int
}

// NewAssembler 创建生成器, deflate 条目使用最高压缩级别
func NewAssembler(logger *logrus.Logger) *Assembler {
	return &Assembler{
		logger: logger,
		level:  flate.BestCompression,
	}
}

// source 参与打包的顶层文件或目录
type source struct {
	path string // 磁盘路径
	root string // 包内顶层名称
}

// entry 待写入的单个文件
type entry struct {
	path string
	name string
	info fs.FileInfo
}

// AssembleUnsigned 生成未签名包
// 条目压缩方式严格按照 table, 不在 table 中的条目使用 deflate
func (a *Assembler) AssembleUnsigned(ctx context.Context, opts AssembleOptions, table domain.CompressionTable) (string, error) {
	metaName := opts.MetaName
	if metaName == "" {
		metaName = domain.DefaultMetaName
	}

	a.logger.WithFields(logrus.Fields{
		"output":       opts.Output,
		"intermediate": opts.IntermediateDir,
		"res_dir":      opts.ResDir,
	}).Info("Generating unsigned apk")

	// 旧产物不能遗留到本次构建
	if err := os.Remove(opts.Output); err != nil && !os.IsNotExist(err) {
		return "", domain.NewStageError(domain.StageAssemble, opts.Output, fmt.Errorf("%w: %v", domain.ErrArchiveWrite, err))
	}

	if !domain.DirExists(opts.IntermediateDir) {
		return "", domain.NewStageError(domain.StageAssemble, opts.IntermediateDir, domain.ErrMissingIntermediate)
	}

	topLevel, err := os.ReadDir(opts.IntermediateDir)
	if err != nil {
		return "", domain.NewStageError(domain.StageAssemble, opts.IntermediateDir, err)
	}

	var sources []source
	for _, f := range topLevel {
		name := f.Name()
		// 这三项使用混淆后的版本
		if name == domain.ResDirName || name == metaName || name == domain.ResourceTableName {
			continue
		}
		sources = append(sources, source{path: filepath.Join(opts.IntermediateDir, name), root: name})
	}

	if !domain.DirExists(opts.ResDir) {
		return "", domain.NewStageError(domain.StageAssemble, opts.ResDir, domain.ErrMissingResourceDir)
	}

	// 混淆前后 res 的文件数量必须一致
	rawResDir := filepath.Join(opts.IntermediateDir, domain.ResDirName)
	destCount, err := CountFiles(opts.ResDir)
	if err != nil {
		return "", domain.NewStageError(domain.StageAssemble, opts.ResDir, fmt.Errorf("%w: %v", domain.ErrResourceCountMismatch, err))
	}
	// 解压目录下没有 res 时按 0 个文件计
	rawCount, err := CountFiles(rawResDir)
	if errors.Is(err, fs.ErrNotExist) {
		rawCount, err = 0, nil
	}
	if err != nil {
		return "", domain.NewStageError(domain.StageAssemble, rawResDir, fmt.Errorf("%w: %v", domain.ErrResourceCountMismatch, err))
	}
	a.logger.WithFields(logrus.Fields{
		"dest_res_count": destCount,
		"raw_res_count":  rawCount,
	}).Debug("Resource file count")
	if destCount != rawCount {
		return "", domain.NewStageError(domain.StageAssemble, opts.ResDir,
			fmt.Errorf("%w: %s has %d files, %s has %d files",
				domain.ErrResourceCountMismatch, rawResDir, rawCount, opts.ResDir, destCount))
	}
	sources = append(sources, source{path: opts.ResDir, root: filepath.Base(opts.ResDir)})

	if !domain.FileExists(opts.ResourceTable) {
		return "", domain.NewStageError(domain.StageAssemble, opts.ResourceTable, domain.ErrMissingResourceTable)
	}
	sources = append(sources, source{path: opts.ResourceTable, root: domain.ResourceTableName})

	entries, err := collectEntries(sources)
	if err != nil {
		return "", domain.NewStageError(domain.StageAssemble, opts.Output, fmt.Errorf("%w: %v", domain.ErrArchiveWrite, err))
	}

	written, err := a.writeArchive(ctx, opts.Output, entries, table)
	if err != nil {
		os.Remove(opts.Output)
		return "", domain.NewStageError(domain.StageAssemble, opts.Output, fmt.Errorf("%w: %v", domain.ErrArchiveWrite, err))
	}

	if missing := missingEntries(table, written); len(missing) > 0 {
		os.Remove(opts.Output)
		return "", domain.NewStageError(domain.StageAssemble, opts.Output,
			fmt.Errorf("%w: %s", domain.ErrCompressionTableMismatch, summarize(missing, 10)))
	}

	if !domain.FileExists(opts.Output) {
		return "", domain.NewStageError(domain.StageAssemble, opts.Output, domain.ErrAssemblyVerification)
	}

	a.logger.WithFields(logrus.Fields{
		"output":  opts.Output,
		"entries": len(written),
	}).Info("Unsigned apk generated")

	return opts.Output, nil
}

// collectEntries 展开目录, 包内路径统一使用 "/"
func collectEntries(sources []source) ([]entry, error) {
	var entries []entry
	for _, src := range sources {
		info, err := os.Stat(src.path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			entries = append(entries, entry{path: src.path, name: src.root, info: info})
			continue
		}

		err = filepath.WalkDir(src.path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(src.path, path)
			if err != nil {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			entries = append(entries, entry{
				path: path,
				name: src.root + "/" + filepath.ToSlash(rel),
				info: fi,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// writeArchive 写入 zip, 返回已写入的条目名
func (a *Assembler) writeArchive(ctx context.Context, output string, entries []entry, table domain.CompressionTable) (map[string]bool, error) {
	f, err := os.Create(output)
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(f)
	level := a.level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	written := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			f.Close()
			return nil, err
		}

		method, ok := table.Method(e.name)
		if !ok {
			method = domain.MethodDeflated
		}

		if err := writeEntry(zw, e, method); err != nil {
			zw.Close()
			f.Close()
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		written[e.name] = true

		a.logger.WithFields(logrus.Fields{
			"entry":  e.name,
			"method": method.String(),
		}).Trace("Entry written")
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return written, nil
}

// writeEntry 写入单个条目
// STORED 条目预先计算 CRC 和大小后原样写入, 不使用 data descriptor
func writeEntry(zw *zip.Writer, e entry, method domain.CompressionMethod) error {
	header := &zip.FileHeader{
		Name:     e.name,
		Method:   uint16(method),
		Modified: e.info.ModTime(),
	}
	header.SetMode(e.info.Mode())

	src, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer src.Close()

	if method != domain.MethodStored {
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		return err
	}

	hash := crc32.NewIEEE()
	size, err := io.Copy(hash, src)
	if err != nil {
		return err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}

	header.CRC32 = hash.Sum32()
	header.CompressedSize64 = uint64(size)
	header.UncompressedSize64 = uint64(size)

	w, err := zw.CreateRaw(header)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, src)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("file changed while writing: expected %d bytes, wrote %d", size, n)
	}
	return nil
}

// missingEntries table 中未写入的条目
func missingEntries(table domain.CompressionTable, written map[string]bool) []string {
	var missing []string
	for p := range table {
		if !written[p] {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}

func summarize(items []string, max int) string {
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:max], ", "), len(items)-max)
}
