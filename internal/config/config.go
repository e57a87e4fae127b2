package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	ResGuard ResGuardConfig `mapstructure:"resguard"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ResGuardConfig 资源混淆输入参数
type ResGuardConfig struct {
	SignFile    string   `mapstructure:"sign_file"` // keystore 路径, 为空则不签名
	KeyPass     string   `mapstructure:"key_pass"`
	StorePass   string   `mapstructure:"store_pass"`
	Alias       string   `mapstructure:"alias"`
	MappingFile string   `mapstructure:"mapping_file"` // 上一次构建的 mapping 文件
	WhiteList   []string `mapstructure:"white_list"`   // 如 com.app.R.drawable.ic_*
	Compress    []string `mapstructure:"compress"`     // 如 *.png
	Use7zip     bool     `mapstructure:"use_7zip"`
	KeepRoot    bool     `mapstructure:"keep_root"`
	MetaName    string   `mapstructure:"meta_name"`
	ResDir      string   `mapstructure:"res_dir"` // 混淆后资源目录, 覆盖默认的 <out>/r
}

// ToolsConfig 外部工具路径
type ToolsConfig struct {
	Jarsigner      string `mapstructure:"jarsigner"`
	Zipalign       string `mapstructure:"zipalign"`
	SevenZip       string `mapstructure:"seven_zip"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 0 表示不限时
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Path     string `mapstructure:"path"` // sqlite 文件路径
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`      // debug, release
	APIToken string `mapstructure:"api_token"` // 为空则不校验
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	File   string `mapstructure:"file"`   // 为空只输出到 stdout
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("resguard.use_7zip", false)
	v.SetDefault("resguard.keep_root", false)
	v.SetDefault("resguard.meta_name", "META-INF")
	v.SetDefault("tools.jarsigner", "")
	v.SetDefault("tools.zipalign", "")
	v.SetDefault("tools.seven_zip", "")
	v.SetDefault("tools.timeout_seconds", 0)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/builds.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.api_token", "")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 100)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖: RESGUARD_TOOLS_ZIPALIGN -> tools.zipalign
	v.SetEnvPrefix("RESGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 签名口令不写进配置文件
	v.BindEnv("resguard.store_pass", "RESGUARD_STORE_PASS")
	v.BindEnv("resguard.key_pass", "RESGUARD_KEY_PASS")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
