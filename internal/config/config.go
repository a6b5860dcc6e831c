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
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Research      ResearchConfig      `yaml:"research" mapstructure:"research"`
	Credits       CreditsConfig       `yaml:"credits" mapstructure:"credits"`
	Generation    GenerationConfig    `yaml:"generation" mapstructure:"generation"`
	Publishing    PublishingConfig    `yaml:"publishing" mapstructure:"publishing"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" mapstructure:"scheduler"`
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
//
// WriteTimeout 需覆盖完整的流式生成耗时，设置为 0 表示不限制。
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Driver 存储驱动：postgres 或 memory（本地调试）
	Driver   string         `yaml:"driver" mapstructure:"driver"`
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
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
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

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	// Driver 客户端实现：eino（默认）或 openai-sdk
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ResearchConfig 网页调研配置
type ResearchConfig struct {
	Firecrawl    FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	DefaultLimit int             `yaml:"default_limit" mapstructure:"default_limit"`
	MaxChars     int             `yaml:"max_chars" mapstructure:"max_chars"`
}

// FirecrawlConfig Firecrawl 配置
type FirecrawlConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CreditsConfig 积分计费配置
type CreditsConfig struct {
	Costs           CreditCosts `yaml:"costs" mapstructure:"costs"`
	RefundOnFailure bool        `yaml:"refund_on_failure" mapstructure:"refund_on_failure"`
	SignupBonus     int         `yaml:"signup_bonus" mapstructure:"signup_bonus"`
}

// CreditCosts 各操作消耗积分
type CreditCosts struct {
	Titles   int `yaml:"titles" mapstructure:"titles"`
	Outline  int `yaml:"outline" mapstructure:"outline"`
	Article  int `yaml:"article" mapstructure:"article"`
	Research int `yaml:"research" mapstructure:"research"`
	Keywords int `yaml:"keywords" mapstructure:"keywords"`
	Audience int `yaml:"audience" mapstructure:"audience"`
}

// GenerationConfig 生成编排配置
type GenerationConfig struct {
	SessionTTL         time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	SweepInterval      time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	EnhanceConcurrency int           `yaml:"enhance_concurrency" mapstructure:"enhance_concurrency"`
	ResearchLimit      int           `yaml:"research_limit" mapstructure:"research_limit"`
	LockTTL            time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
	StreamBuffer       int           `yaml:"stream_buffer" mapstructure:"stream_buffer"`
}

// PublishingConfig 发布配置
type PublishingConfig struct {
	Webflow WebflowConfig `yaml:"webflow" mapstructure:"webflow"`
}

// WebflowConfig Webflow 配置
type WebflowConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SchemaCacheTTL    time.Duration `yaml:"schema_cache_ttl" mapstructure:"schema_cache_ttl"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen        int           `yaml:"max_len" mapstructure:"max_len"`
	PublishStream string        `yaml:"publish_stream" mapstructure:"publish_stream"`
	ConsumerGroup string        `yaml:"consumer_group" mapstructure:"consumer_group"`
	BlockTimeout  time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	RetryLimit    int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff  BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// SchedulerConfig 定时发布配置
type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	PublishSpec string `yaml:"publish_spec" mapstructure:"publish_spec"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
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
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
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
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Secret   string `yaml:"secret" mapstructure:"secret"`
	Issuer   string `yaml:"issuer" mapstructure:"issuer"`
	Audience string `yaml:"audience" mapstructure:"audience"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window" mapstructure:"requests_per_window"`
	Window            time.Duration `yaml:"window" mapstructure:"window"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
