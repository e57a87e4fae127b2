package domain

import (
	"os"
	"path/filepath"
)

// 输出目录下的固定名称
const (
	UnzipDirName      = "temp"           // 解码阶段的解压目录
	SevenZipDirName   = "out_7zip"       // 7zip 重打包的解压目录
	StoredDirName     = "storefiles"     // 7zip 回填 STORED 条目的暂存目录
	ResDirName        = "res"            // 原始资源目录
	ObfuscatedResName = "r"              // 混淆后的资源目录 (keep_root=false)
	ResourceTableName = "resources.arsc" // 资源表
	DefaultMetaName   = "META-INF"       // 签名信息目录
)

// BuildArtifacts 一次构建的所有产物路径, 在构建开始时一次性计算
type BuildArtifacts struct {
	OutDir             string `json:"out_dir"`
	APKName            string `json:"apk_name"`
	Unsigned           string `json:"unsigned"`
	Signed             string `json:"signed"`
	Signed7Zip         string `json:"signed_7zip"`
	Aligned            string `json:"aligned"`
	Aligned7Zip        string `json:"aligned_7zip"`
	SevenZipScratchDir string `json:"seven_zip_scratch_dir"`
	StoredStagingDir   string `json:"stored_staging_dir"`
	IntermediateDir    string `json:"intermediate_dir"`
}

// NewBuildArtifacts 根据输出目录和 APK 基础名生成产物路径
func NewBuildArtifacts(outDir, apkName string) BuildArtifacts {
	return BuildArtifacts{
		OutDir:             outDir,
		APKName:            apkName,
		Unsigned:           filepath.Join(outDir, apkName+"_unsigned.apk"),
		Signed:             filepath.Join(outDir, apkName+"_signed.apk"),
		Signed7Zip:         filepath.Join(outDir, apkName+"_signed_7zip.apk"),
		Aligned:            filepath.Join(outDir, apkName+"_signed_aligned.apk"),
		Aligned7Zip:        filepath.Join(outDir, apkName+"_signed_7zip_aligned.apk"),
		SevenZipScratchDir: filepath.Join(outDir, SevenZipDirName),
		StoredStagingDir:   filepath.Join(outDir, StoredDirName),
		IntermediateDir:    filepath.Join(outDir, UnzipDirName),
	}
}

// Archives 返回全部 APK 产物路径
func (a BuildArtifacts) Archives() []string {
	return []string{a.Unsigned, a.Signed, a.Signed7Zip, a.Aligned, a.Aligned7Zip}
}

// Existing 返回磁盘上已存在的 APK 产物
func (a BuildArtifacts) Existing() []string {
	var out []string
	for _, p := range a.Archives() {
		if FileExists(p) {
			out = append(out, p)
		}
	}
	return out
}

// FileExists 判断路径是否存在
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirExists 判断路径是否为已存在的目录
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
