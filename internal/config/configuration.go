package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/domain"
	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/pattern"
)

// SignData 签名信息
type SignData struct {
	StoreFile string `json:"store_file"`
	StorePass string `json:"-"`
	KeyPass   string `json:"-"`
	Alias     string `json:"alias"`
}

// ToolPaths 外部工具, 为空时使用平台默认命令
type ToolPaths struct {
	Jarsigner string
	Zipalign  string
	SevenZip  string
	Timeout   time.Duration // 0 表示不限时
}

// BuildOptions 构建所需配置的只读快照
type BuildOptions struct {
	Sign           SignData
	SigningEnabled bool
	Use7zip        bool
	KeepRoot       bool
	MetaName       string
	ResDir         string
	Tools          ToolPaths
}

// ResDirFor 混淆后资源目录
func (o BuildOptions) ResDirFor(outDir string) string {
	if o.ResDir != "" {
		return o.ResDir
	}
	if o.KeepRoot {
		return filepath.Join(outDir, domain.ResDirName)
	}
	return filepath.Join(outDir, domain.ObfuscatedResName)
}

// Configuration 资源混淆配置
type Configuration struct {
	UseSignAPK     bool
	UseWhiteList   bool
	UseCompress    bool
	UseKeepMapping bool
	Use7zip        bool
	KeepRoot       bool
	MetaName       string
	ResDir         string
	Tools          ToolPaths

	sign             SignData
	whiteList        *WhiteList
	compressPatterns []*pattern.Rule

	mu          sync.RWMutex
	mappingFile string
	mapping     *LegacyMapping
	mappingErr  error // 最近一次重新解析失败的原因
}

// New 创建空配置
func New() *Configuration {
	return &Configuration{
		MetaName:  domain.DefaultMetaName,
		whiteList: NewWhiteList(),
		mapping:   NewLegacyMapping(),
	}
}

// NewConfiguration 根据配置文件参数创建配置
func NewConfiguration(rg ResGuardConfig, tools ToolsConfig) (*Configuration, error) {
	c := New()

	if err := c.SetSignData(rg.SignFile, rg.KeyPass, rg.StorePass, rg.Alias); err != nil {
		return nil, err
	}

	if rg.MappingFile != "" {
		if err := c.SetKeepMappingData(rg.MappingFile); err != nil {
			return nil, err
		}
	}

	for _, item := range rg.WhiteList {
		if strings.TrimSpace(item) == "" {
			continue
		}
		if err := c.AddWhiteList(item); err != nil {
			return nil, err
		}
	}

	for _, item := range rg.Compress {
		if strings.TrimSpace(item) == "" {
			continue
		}
		if err := c.AddCompressPattern(item); err != nil {
			return nil, err
		}
	}

	c.Use7zip = rg.Use7zip
	c.KeepRoot = rg.KeepRoot
	if rg.MetaName != "" {
		c.MetaName = rg.MetaName
	}
	c.ResDir = rg.ResDir

	c.Tools = ToolPaths{
		Jarsigner: tools.Jarsigner,
		Zipalign:  tools.Zipalign,
		SevenZip:  tools.SevenZip,
		Timeout:   time.Duration(tools.TimeoutSeconds) * time.Second,
	}

	return c, nil
}

// SetSignData 设置签名信息, path 为空表示不签名
func (c *Configuration) SetSignData(path, keyPass, storePass, alias string) error {
	if path == "" {
		c.UseSignAPK = false
		c.sign = SignData{}
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w, raw path=%s", domain.ErrMissingSignatureFile, path)
	}

	c.UseSignAPK = true
	c.sign = SignData{
		StoreFile: path,
		KeyPass:   keyPass,
		StorePass: storePass,
		Alias:     alias,
	}
	return nil
}

// SetKeepMappingData 启用旧 mapping 并完整解析
func (c *Configuration) SetKeepMappingData(path string) error {
	c.mu.Lock()
	c.UseKeepMapping = true
	c.mappingFile = path
	c.mu.Unlock()

	return c.ReloadMapping()
}

// ReloadMapping 重新完整解析 mapping 文件
// 解析失败时保留旧结果并记录错误, 直到下一次成功解析
func (c *Configuration) ReloadMapping() error {
	c.mu.RLock()
	path := c.mappingFile
	c.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("%w: no mapping file configured", domain.ErrMissingMappingFile)
	}

	mapping, err := LoadLegacyMapping(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.mappingErr = err
		return err
	}
	c.mapping = mapping
	c.mappingErr = nil
	return nil
}

// MappingError 当前 mapping 是否过期, 非 nil 表示文件已变化但未能解析
func (c *Configuration) MappingError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mappingErr
}

// AddWhiteList 添加白名单规则
func (c *Configuration) AddWhiteList(rule string) error {
	if err := c.whiteList.Add(rule); err != nil {
		return err
	}
	c.UseWhiteList = true
	return nil
}

// AddCompressPattern 添加强制压缩规则, 如 *.png
func (c *Configuration) AddCompressPattern(rule string) error {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return fmt.Errorf("%w: invalid compress pattern config", domain.ErrInvalidRule)
	}

	compiled, err := pattern.Compile(rule)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRule, err)
	}

	for _, existing := range c.compressPatterns {
		if existing.String() == compiled.String() {
			return nil
		}
	}
	c.compressPatterns = append(c.compressPatterns, compiled)
	c.UseCompress = true
	return nil
}

// SigningEnabled 是否签名
func (c *Configuration) SigningEnabled() bool {
	return c.UseSignAPK
}

// SignData 返回签名信息
func (c *Configuration) SignData() SignData {
	return c.sign
}

// WhiteList 返回白名单
func (c *Configuration) WhiteList() *WhiteList {
	return c.whiteList
}

// CompressPatterns 返回强制压缩规则
func (c *Configuration) CompressPatterns() []*pattern.Rule {
	out := make([]*pattern.Rule, len(c.compressPatterns))
	copy(out, c.compressPatterns)
	return out
}

// Mapping 返回当前 mapping, 调用方只读
func (c *Configuration) Mapping() *LegacyMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapping
}

// MappingFile 返回 mapping 文件路径
func (c *Configuration) MappingFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mappingFile
}

// PrepareCompressionTable 将旧文件映射和强制压缩规则应用到压缩表
func (c *Configuration) PrepareCompressionTable(table domain.CompressionTable) domain.CompressionTable {
	out := table.WithoutPrefix(c.MetaName)
	if c.UseKeepMapping {
		out = out.Rename(c.Mapping().Files)
	}
	if c.UseCompress {
		matchers := make([]domain.Matcher, 0, len(c.compressPatterns))
		for _, r := range c.compressPatterns {
			matchers = append(matchers, r)
		}
		out.ApplyCompressPatterns(matchers)
	}
	return out
}

// BuildOptions 生成构建快照
func (c *Configuration) BuildOptions() BuildOptions {
	return BuildOptions{
		Sign:           c.sign,
		SigningEnabled: c.UseSignAPK,
		Use7zip:        c.Use7zip,
		KeepRoot:       c.KeepRoot,
		MetaName:       c.MetaName,
		ResDir:         c.ResDir,
		Tools:          c.Tools,
	}
}
