// Package component 根据配置创建文本生成使用的 eino ChatModel
package component

import (
	"context"
	"errors"
	"fmt"
	"time"

	arkext "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"quickgpt/internal/config"
)

// ErrModelRequired ai.model 未配置
var ErrModelRequired = errors.New("ai.model is required")

// 生成网关自己控制整体超时，provider 客户端不再重试
var arkRetryTimes = 0

// sampling 三个 provider 共用的采样参数
type sampling struct {
	temperature *float32
	maxTokens   *int
	topP        *float32
}

func samplingFrom(opts config.AIOptionsConfig) sampling {
	var s sampling
	if opts.Temperature > 0 {
		temp := float32(opts.Temperature)
		s.temperature = &temp
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		s.maxTokens = &maxTokens
	}
	if opts.TopP > 0 {
		topP := float32(opts.TopP)
		s.topP = &topP
	}
	return s
}

// NewChatModel 创建 ChatModel
// provider: openai (默认), azure, ark
// cfg.Timeout 同时作为 provider HTTP 客户端的超时
func NewChatModel(ctx context.Context, cfg *config.AIConfig) (model.ChatModel, error) {
	if cfg.Model == "" {
		return nil, ErrModelRequired
	}
	if cfg.APIKey == "" {
		log.Warn().Str("provider", cfg.Provider).Msg("AI API key not configured, text completions will fail")
	}

	s := samplingFrom(cfg.Options)

	switch cfg.Provider {
	case "openai", "":
		return newOpenAIChatModel(ctx, cfg, s, false)
	case "azure":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("ai.base_url is required for azure provider")
		}
		return newOpenAIChatModel(ctx, cfg, s, true)
	case "ark":
		return newArkChatModel(ctx, cfg, s)
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// newOpenAIChatModel OpenAI 兼容接口，azure 共用同一实现
func newOpenAIChatModel(ctx context.Context, cfg *config.AIConfig, s sampling, byAzure bool) (model.ChatModel, error) {
	modelCfg := &openai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		ByAzure:     byAzure,
		APIVersion:  cfg.APIVersion,
		Timeout:     cfg.Timeout,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		TopP:        s.topP,
	}

	return openai.NewChatModel(ctx, modelCfg)
}

// newArkChatModel 火山方舟，BaseURL 为空时由 SDK 使用默认地域
func newArkChatModel(ctx context.Context, cfg *config.AIConfig, s sampling) (model.ChatModel, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	retries := arkRetryTimes

	modelCfg := &arkext.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Timeout:     &timeout,
		RetryTimes:  &retries,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		TopP:        s.topP,
	}

	return arkext.NewChatModel(ctx, modelCfg)
}
