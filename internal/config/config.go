// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Session       SessionConfig       `mapstructure:"session"`
	Timeouts      TimeoutConfig       `mapstructure:"timeouts"`
	Persistence   PersistenceConfig   `mapstructure:"persistence"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port      string          `mapstructure:"port"`
	Mode      string          `mapstructure:"mode"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 控制每个用户提交对话的速率。RPS 为 0 表示不限流。
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与无检索结果时的兜底回答。
// SystemTemplate 为空时使用内置的 FinPro 模板。
type LLMPromptConfig struct {
	SystemTemplate string `mapstructure:"system_template"`
	NoResultText   string `mapstructure:"no_result_text"`
}

// RetrievalConfig 控制混合检索的参数。
type RetrievalConfig struct {
	TopK           int     `mapstructure:"top_k"`
	SeedLimit      int     `mapstructure:"seed_limit"`
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	RRFConstant    int     `mapstructure:"rrf_constant"`
}

// WeightSumTolerance 是融合权重之和偏离 1 时允许的误差。
const WeightSumTolerance = 1e-6

// ValidFusionWeights 判断两路权重均位于 [0,1] 且和为 1。
func ValidFusionWeights(lexical, semantic float64) bool {
	if lexical < 0 || lexical > 1 || semantic < 0 || semantic > 1 {
		return false
	}
	d := lexical + semantic - 1
	return d <= WeightSumTolerance && d >= -WeightSumTolerance
}

// SessionConfig 控制内存会话历史的淘汰策略。
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxMessages     int           `mapstructure:"max_messages"`
}

// TimeoutConfig 为每个外部调用阶段设置独立的超时。
type TimeoutConfig struct {
	LockWait  time.Duration `mapstructure:"lock_wait"`
	Rewrite   time.Duration `mapstructure:"rewrite"`
	Retrieval time.Duration `mapstructure:"retrieval"`
	Synthesis time.Duration `mapstructure:"synthesis"`
	Metrics   time.Duration `mapstructure:"metrics"`
	Persist   time.Duration `mapstructure:"persist"`
}

// PersistenceConfig 控制对话轮次的异步落库。
// Mode 取值 direct（进程内直接写库）或 kafka（经 Kafka 转发后由消费者写库）。
type PersistenceConfig struct {
	Mode          string `mapstructure:"mode"`
	Workers       int    `mapstructure:"workers"`
	QueueSize     int    `mapstructure:"queue_size"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	// OverflowLimit 是队列满时额外允许的并发投递数。
	OverflowLimit int    `mapstructure:"overflow_limit"`
}

// ResilienceConfig 控制外部调用的熔断与落库重试退避。
type ResilienceConfig struct {
	BreakerEnabled      bool          `mapstructure:"breaker_enabled"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `mapstructure:"retry_max_backoff"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 5)

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("database.mysql.conn_max_lifetime", time.Hour)
	v.SetDefault("database.mysql.auto_migrate", true)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "finpro-turns")
	v.SetDefault("kafka.group_id", "finpro-turn-persister")

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "finpro_passages")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.dimensions", 768)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.generation.temperature", 0)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 4096)
	v.SetDefault("llm.prompt.system_template", "")
	v.SetDefault("llm.prompt.no_result_text", "I'm sorry, but there isn't sufficient information in the selected earnings call transcripts to answer that question.")

	v.SetDefault("retrieval.top_k", 10)
	v.SetDefault("retrieval.seed_limit", 1000)
	v.SetDefault("retrieval.lexical_weight", 0.5)
	v.SetDefault("retrieval.semantic_weight", 0.5)
	v.SetDefault("retrieval.rrf_constant", 60)

	v.SetDefault("session.ttl", 2*time.Hour)
	v.SetDefault("session.cleanup_interval", 10*time.Minute)
	v.SetDefault("session.max_messages", 0)

	v.SetDefault("timeouts.lock_wait", 30*time.Second)
	v.SetDefault("timeouts.rewrite", 20*time.Second)
	v.SetDefault("timeouts.retrieval", 15*time.Second)
	v.SetDefault("timeouts.synthesis", 60*time.Second)
	v.SetDefault("timeouts.metrics", 5*time.Second)
	v.SetDefault("timeouts.persist", 10*time.Second)

	v.SetDefault("persistence.mode", "direct")
	v.SetDefault("persistence.workers", 4)
	v.SetDefault("persistence.queue_size", 256)
	v.SetDefault("persistence.max_attempts", 1)
	v.SetDefault("persistence.overflow_limit", 64)

	v.SetDefault("resilience.breaker_enabled", true)
	v.SetDefault("resilience.breaker_min_requests", 10)
	v.SetDefault("resilience.breaker_failure_ratio", 0.6)
	v.SetDefault("resilience.breaker_open_timeout", 30*time.Second)
	v.SetDefault("resilience.retry_initial_backoff", 200*time.Millisecond)
	v.SetDefault("resilience.retry_max_backoff", 5*time.Second)
}

// Load 从指定路径读取 YAML 配置，并允许 FINPRO_ 前缀的环境变量覆盖，
// 例如 FINPRO_LLM_API_KEY 覆盖 llm.api_key。
// 进程目录下的 .env 文件（若存在）会先被加载到环境变量中。
// 配置文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 文件失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FINPRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置中相互约束的取值。
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k 必须大于 0, 当前: %d", r.TopK)
	}
	if r.SeedLimit < r.TopK {
		return fmt.Errorf("retrieval.seed_limit (%d) 不能小于 retrieval.top_k (%d)", r.SeedLimit, r.TopK)
	}
	if !ValidFusionWeights(r.LexicalWeight, r.SemanticWeight) {
		return fmt.Errorf("retrieval 权重必须位于 [0,1] 且和为 1, 当前: %.3f/%.3f", r.LexicalWeight, r.SemanticWeight)
	}
	switch c.Persistence.Mode {
	case "direct", "kafka":
	default:
		return fmt.Errorf("persistence.mode 仅支持 direct 或 kafka, 当前: %q", c.Persistence.Mode)
	}
	if c.Persistence.MaxAttempts < 1 {
		return fmt.Errorf("persistence.max_attempts 至少为 1, 当前: %d", c.Persistence.MaxAttempts)
	}
	return nil
}
