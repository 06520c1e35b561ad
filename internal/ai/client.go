package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"quickgpt/internal/ai/component"
	"quickgpt/internal/config"
	"quickgpt/internal/model"
	"quickgpt/internal/pkg/id"
	"quickgpt/internal/pkg/storage"
)

// DefaultTimeout 单次生成调用的默认超时时间
const DefaultTimeout = 60 * time.Second

// Message 网关层的对话消息，与 provider 的消息格式解耦
type Message struct {
	Role    model.Role
	Content string
}

// Client 生成网关
// 职责: 文本补全与图片合成，统一超时控制和错误分类
type Client struct {
	chatModel einomodel.BaseChatModel
	images    ImageProvider
	assets    storage.Storage
	folder    string
	timeout   time.Duration
}

// NewClient 根据配置创建生成网关
func NewClient(ctx context.Context, aiCfg *config.AIConfig, imgCfg *config.ImageConfig, assets storage.Storage) (*Client, error) {
	chatModel, err := component.NewChatModel(ctx, aiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	images, err := NewImageProvider(imgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create image provider: %w", err)
	}
	if images == nil {
		log.Warn().Msg("image provider not configured, image requests will fail")
	}

	return New(chatModel, images, assets, imgCfg.Folder, aiCfg.Timeout), nil
}

// New 使用已有组件创建生成网关
func New(chatModel einomodel.BaseChatModel, images ImageProvider, assets storage.Storage, folder string, timeout time.Duration) *Client {
	if folder == "" {
		folder = "quickgpt"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		chatModel: chatModel,
		images:    images,
		assets:    assets,
		folder:    folder,
		timeout:   timeout,
	}
}

// CompleteText 将对话窗口发送给聊天模型，返回助手回复
func (c *Client) CompleteText(ctx context.Context, window []Message) (*Message, error) {
	if c.chatModel == nil {
		return nil, fmt.Errorf("complete text: %w: chat model not configured", ErrUpstream)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.chatModel.Generate(ctx, toSchemaMessages(window))
	if err != nil {
		return nil, c.classifyWithContext(ctx, "complete text", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return nil, fmt.Errorf("complete text: %w: empty completion", ErrUpstream)
	}

	return &Message{
		Role:    model.RoleAssistant,
		Content: out.Content,
	}, nil
}

// Image 上传后的图片
type Image struct {
	Key string // 资源存储中的 key
	URL string
}

// SynthesizeImage 生成图片并上传到资源存储，返回可访问的URL
// 生成和上传任一步失败，整个调用失败
func (c *Client) SynthesizeImage(ctx context.Context, prompt string) (*Image, error) {
	if c.images == nil {
		return nil, fmt.Errorf("synthesize image: %w: image provider not configured", ErrUpstream)
	}
	if c.assets == nil {
		return nil, fmt.Errorf("synthesize image: %w: asset storage not configured", ErrUpstream)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.images.Generate(ctx, prompt)
	if err != nil {
		return nil, c.classifyWithContext(ctx, "synthesize image", err)
	}

	key := fmt.Sprintf("%s/%d-%s.png", c.folder, time.Now().UnixMilli(), id.New())
	url, err := c.assets.Upload(ctx, key, bytes.NewReader(data), "image/png")
	if err != nil {
		return nil, c.classifyWithContext(ctx, "upload image", err)
	}

	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("generated image stored")
	return &Image{Key: key, URL: url}, nil
}

// DiscardImage 删除已上传但没有被对话引用的图片
func (c *Client) DiscardImage(ctx context.Context, key string) error {
	if c.assets == nil || key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.assets.Delete(ctx, key); err != nil {
		return fmt.Errorf("discard image %s: %w", key, err)
	}
	return nil
}

// classifyWithContext 超时后 provider 返回的错误不一定包装 DeadlineExceeded，这里以 ctx 状态为准
func (c *Client) classifyWithContext(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return classify(op, err)
}

func toSchemaMessages(window []Message) []*schema.Message {
	input := make([]*schema.Message, 0, len(window))
	for _, m := range window {
		switch m.Role {
		case model.RoleAssistant:
			input = append(input, schema.AssistantMessage(m.Content, nil))
		default:
			input = append(input, schema.UserMessage(m.Content))
		}
	}
	return input
}
