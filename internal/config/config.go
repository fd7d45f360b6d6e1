// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Tenancy       TenancyConfig       `yaml:"tenancy" mapstructure:"tenancy"`
	Admission     AdmissionConfig     `yaml:"admission" mapstructure:"admission"`
	Providers     ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator" mapstructure:"orchestrator"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// TenancyConfig 租户解析配置
type TenancyConfig struct {
	// BaseDomain 平台基础域名，用于子域名解析（如 omnigen.app）
	BaseDomain string `yaml:"base_domain" mapstructure:"base_domain"`
	// ReservedSubdomains 保留子域名，不作为租户标识（www/api 等）
	ReservedSubdomains []string `yaml:"reserved_subdomains" mapstructure:"reserved_subdomains"`
	// CustomDomains 自定义域名到租户 ID 的映射
	CustomDomains map[string]string `yaml:"custom_domains" mapstructure:"custom_domains"`
	// PathPrefix 路径前缀解析模式（/tenant/{id}）
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix"`
	// HeaderName 从 Header 中获取租户 ID 的字段名
	HeaderName string `yaml:"header_name" mapstructure:"header_name"`
	// QueryParam 从查询参数中获取租户 ID 的字段名
	QueryParam string `yaml:"query_param" mapstructure:"query_param"`
	// DefaultTenantID 默认租户 ID（仅非生产环境配置）
	DefaultTenantID string `yaml:"default_tenant_id" mapstructure:"default_tenant_id"`
	// CacheTTL 租户配置缓存有效期
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// AdmissionConfig 准入控制配置
type AdmissionConfig struct {
	// BypassEnabled 显式的准入旁路开关，开启后每次旁路都会被审计记录
	BypassEnabled bool `yaml:"bypass_enabled" mapstructure:"bypass_enabled"`
	// UnknownMetricOpen 未知指标是否视为不限额（仅非生产环境配置）
	UnknownMetricOpen bool `yaml:"unknown_metric_open" mapstructure:"unknown_metric_open"`
	// CommitAsync 用量提交是否异步持久化（fire-and-forget）
	CommitAsync bool `yaml:"commit_async" mapstructure:"commit_async"`
}

// ProvidersConfig Provider 注册与回退链配置
type ProvidersConfig struct {
	// Registry Provider 名称到配置的映射
	Registry map[string]ProviderConfig `yaml:"registry" mapstructure:"registry"`
	// Chains 能力到 Provider 名称有序回退链的映射
	Chains map[string][]string `yaml:"chains" mapstructure:"chains"`
}

// ProviderConfig 单个 Provider 配置
type ProviderConfig struct {
	// Kind 适配器类型：openai（Chat Completions 协议）或 http（通用 JSON 接口）
	Kind        string        `yaml:"kind" mapstructure:"kind"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Enabled 可用性开关，关闭后该 Provider 不参与链遍历
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// OrchestratorConfig 任务编排配置
type OrchestratorConfig struct {
	// ProviderCallTimeout 单次 Provider 调用超时
	ProviderCallTimeout time.Duration `yaml:"provider_call_timeout" mapstructure:"provider_call_timeout"`
	// MaxConcurrentJobs 同时执行的任务上限
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	// JobRetention 终态任务在内存中的保留时长，过期后被驱逐
	JobRetention time.Duration `yaml:"job_retention" mapstructure:"job_retention"`
	// EvictInterval 驱逐巡检间隔
	EvictInterval time.Duration `yaml:"evict_interval" mapstructure:"evict_interval"`
	// EventBufferSize 每个订阅者的事件缓冲大小，写满后丢弃最旧事件
	EventBufferSize int `yaml:"event_buffer_size" mapstructure:"event_buffer_size"`
	// ArchiveRetention 归档任务的保留时长，维护巡检清理更早的记录
	ArchiveRetention time.Duration `yaml:"archive_retention" mapstructure:"archive_retention"`
	// SweepInterval 维护巡检间隔
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter   string  `yaml:"exporter" mapstructure:"exporter"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Port    int    `yaml:"port" mapstructure:"port"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt" mapstructure:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Secret     string        `yaml:"secret" mapstructure:"secret"`
	Issuer     string        `yaml:"issuer" mapstructure:"issuer"`
	Expiration time.Duration `yaml:"expiration" mapstructure:"expiration"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
