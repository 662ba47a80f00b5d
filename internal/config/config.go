package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Credential CredentialConfig `mapstructure:"credential"`
}

// ServerConfig 运维端口配置（健康检查与指标暴露）
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone(单节点), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`

	// 单节点模式配置
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 哨兵模式配置
	MasterName       string   `mapstructure:"master_name"`       // 主节点名称
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`    // 哨兵地址列表
	SentinelPassword string   `mapstructure:"sentinel_password"` // 哨兵密码（可选）

	// 集群模式配置
	ClusterAddrs []string `mapstructure:"cluster_addrs"` // 集群节点地址列表

	// 通用配置
	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// WorkerConfig 阶段工作器配置
type WorkerConfig struct {
	// 单个工作器的最大并发任务数，0 表示使用默认值 10
	// 环境变量: APP_WORKER_MAX_CONCURRENT_JOBS
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs"`

	// 确认策略: immediate(取得许可即确认，至多一次) / on_success(处理成功后确认，至少一次)
	AckPolicy string `mapstructure:"ack_policy"`

	// 启用的阶段列表，空表示全部（preprocessing, processing, postprocessing）
	Stages []string `mapstructure:"stages"`

	// 至少一次模式下的最大投递次数与重试退避（秒）
	MaxDeliver          int `mapstructure:"max_deliver"`
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`

	// 读取阻塞时长与陈旧消息认领阈值（秒）
	BlockSeconds     int `mapstructure:"block_seconds"`
	ClaimIdleSeconds int `mapstructure:"claim_idle_seconds"`
}

// EngineConfig 工作流引擎配置
type EngineConfig struct {
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"` // 并发执行的工作流数量上限
	QueueConcurrency  int `mapstructure:"queue_concurrency"`   // asynq 服务器并发度
}

// SinkConfig 输出缓冲配置
type SinkConfig struct {
	BufferSize int `mapstructure:"buffer_size"` // 入队缓冲容量，0 表示使用默认值 256
}

// CredentialConfig 凭据加密配置
type CredentialConfig struct {
	MasterKey string `mapstructure:"master_key"` // 32 字节密钥的十六进制编码
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_WORKER_MAX_CONCURRENT_JOBS

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
