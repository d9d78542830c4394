package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`
	Chat       ChatConfig       `mapstructure:"chat"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`

	// MaxConcurrent 同时处理的 HTTP 请求上限，0 表示不限制
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

type GRPCConfig struct {
	Address string `mapstructure:"address"`
	Enabled bool   `mapstructure:"enabled"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RateLimitConfig 每个用户每分钟允许的写操作次数
type RateLimitConfig struct {
	MessagePerMinute  int  `mapstructure:"message_per_minute"`
	ReactionPerMinute int  `mapstructure:"reaction_per_minute"`
	InvitePerMinute   int  `mapstructure:"invite_per_minute"`
	FailOpen          bool `mapstructure:"fail_open"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type KafkaConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Brokers       []string       `mapstructure:"brokers"`
	ConsumerGroup string         `mapstructure:"consumer_group"`
	Topics        TopicsConfig   `mapstructure:"topics"`
	Producer      ProducerConfig `mapstructure:"producer"`
	Consumer      ConsumerConfig `mapstructure:"consumer"`
}

type TopicsConfig struct {
	Notification string `mapstructure:"notification"`
	DLQ          string `mapstructure:"dlq"`
}

type ProducerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type ConsumerConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

// ChatConfig 会话引擎的业务参数
type ChatConfig struct {
	TypingTTLSeconds  int `mapstructure:"typing_ttl_seconds"`
	ViewingTTLSeconds int `mapstructure:"viewing_ttl_seconds"`
	LockTTLMillis     int `mapstructure:"lock_ttl_millis"`
	DefaultPageSize   int `mapstructure:"default_page_size"`
	MaxPageSize       int `mapstructure:"max_page_size"`
	SearchLimit       int `mapstructure:"search_limit"`
	MaxForwardTargets int `mapstructure:"max_forward_targets"`
	MaxImages         int `mapstructure:"max_images"`
	InviteCodeLength  int `mapstructure:"invite_code_length"`
}

func (c ChatConfig) TypingTTL() time.Duration {
	return time.Duration(c.TypingTTLSeconds) * time.Second
}

func (c ChatConfig) ViewingTTL() time.Duration {
	return time.Duration(c.ViewingTTLSeconds) * time.Second
}

func (c ChatConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMillis) * time.Millisecond
}

// DefaultChatConfig 返回未配置时使用的业务参数
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		TypingTTLSeconds:  5,
		ViewingTTLSeconds: 30,
		LockTTLMillis:     3000,
		DefaultPageSize:   30,
		MaxPageSize:       100,
		SearchLimit:       10,
		MaxForwardTargets: 20,
		MaxImages:         10,
		InviteCodeLength:  12,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_concurrent", 2048)
	v.SetDefault("grpc.address", ":9090")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("ratelimit.message_per_minute", 120)
	v.SetDefault("ratelimit.reaction_per_minute", 240)
	v.SetDefault("ratelimit.invite_per_minute", 20)
	v.SetDefault("ratelimit.fail_open", true)
	v.SetDefault("worker_pool.size", 32)
	v.SetDefault("worker_pool.queue_size", 4096)
	v.SetDefault("kafka.consumer_group", "chat-engine")
	v.SetDefault("kafka.topics.notification", "chat.notifications")
	v.SetDefault("kafka.topics.dlq", "chat.notifications.dlq")
	v.SetDefault("kafka.producer.max_retries", 3)
	v.SetDefault("kafka.producer.retry_backoff_ms", 100)
	v.SetDefault("kafka.consumer.max_retries", 3)
	v.SetDefault("kafka.consumer.retry_backoff_ms", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	chat := DefaultChatConfig()
	v.SetDefault("chat.typing_ttl_seconds", chat.TypingTTLSeconds)
	v.SetDefault("chat.viewing_ttl_seconds", chat.ViewingTTLSeconds)
	v.SetDefault("chat.lock_ttl_millis", chat.LockTTLMillis)
	v.SetDefault("chat.default_page_size", chat.DefaultPageSize)
	v.SetDefault("chat.max_page_size", chat.MaxPageSize)
	v.SetDefault("chat.search_limit", chat.SearchLimit)
	v.SetDefault("chat.max_forward_targets", chat.MaxForwardTargets)
	v.SetDefault("chat.max_images", chat.MaxImages)
	v.SetDefault("chat.invite_code_length", chat.InviteCodeLength)
}

// LoadConfig 读取 TOML 配置文件，并允许通过 CHAT_ 前缀的环境变量覆盖
// 例如 CHAT_SERVER_PORT=8080 覆盖 server.port
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 将配置反序列化到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &config, nil
}
