package config

import (
	"errors"
	"time"
)

// DefaultJWTSecret 未配置 auth.jwt_secret 时使用的密钥，仅用于本地开发
const DefaultJWTSecret = "default-secret-key-change-in-production"

// Config 应用配置根结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	AI       AIConfig       `mapstructure:"ai"`
	Image    ImageConfig    `mapstructure:"image"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Log      LogConfig      `mapstructure:"log"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AIConfig 文本生成配置
type AIConfig struct {
	Provider   string          `mapstructure:"provider"` // openai, azure, ark
	APIKey     string          `mapstructure:"api_key"`
	Model      string          `mapstructure:"model"`
	BaseURL    string          `mapstructure:"base_url"`
	APIVersion string          `mapstructure:"api_version"` // 仅 azure
	Options    AIOptionsConfig `mapstructure:"options"`
	Timeout    time.Duration   `mapstructure:"timeout"` // 单次生成调用的超时时间
}

// AIOptionsConfig AI 模型参数
type AIOptionsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TopP        float64 `mapstructure:"top_p"`
}

// ImageConfig 图片生成配置
type ImageConfig struct {
	Provider string `mapstructure:"provider"` // ark, prompt_url
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	Endpoint string `mapstructure:"endpoint"` // prompt_url 模式下的生成端点
	Size     string `mapstructure:"size"`
	Folder   string `mapstructure:"folder"` // 上传到资源存储时使用的目录
}

// ExchangeConfig 消息交换（计费）配置
type ExchangeConfig struct {
	HistoryWindow int     `mapstructure:"history_window"` // 发送给模型的最近消息条数
	TextCost      int64   `mapstructure:"text_cost"`
	ImageCost     int64   `mapstructure:"image_cost"`
	RateLimit     float64 `mapstructure:"rate_limit"` // 每个用户每秒允许的请求数
	RateBurst     int     `mapstructure:"rate_burst"`
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
// Token 由外部认证服务签发，这里只负责校验
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`          // JWT密钥
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"` // token issue 命令签发的有效期
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"` // 基础路径
	BaseURL  string `mapstructure:"base_url"`  // 基础URL（用于生成访问URL）
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`          // OSS端点
	Bucket          string `mapstructure:"bucket"`            // Bucket名称
	AccessKeyID     string `mapstructure:"access_key_id"`     // AccessKey ID
	AccessKeySecret string `mapstructure:"access_key_secret"` // AccessKey Secret
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.Exchange.HistoryWindow <= 0 {
		return errors.New("exchange.history_window must be positive")
	}
	if c.Exchange.TextCost <= 0 || c.Exchange.ImageCost <= 0 {
		return errors.New("exchange costs must be positive")
	}

	if c.AI.Timeout <= 0 {
		return errors.New("ai.timeout must be positive")
	}

	switch c.Image.Provider {
	case "", "ark", "prompt_url":
	default:
		return errors.New("invalid image provider, must be ark/prompt_url")
	}

	return nil
}
