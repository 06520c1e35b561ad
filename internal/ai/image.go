package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quickgpt/internal/config"
	"quickgpt/internal/pkg/ark"
)

// maxImageBytes 单张图片的最大字节数
const maxImageBytes = 20 << 20

// ImageProvider 根据提示词生成图片字节
type ImageProvider interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// NewImageProvider 根据配置创建图片生成 provider
// provider 为空时返回 nil，图片请求会以 ErrUpstream 失败
func NewImageProvider(cfg *config.ImageConfig) (ImageProvider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ark":
		client, err := ark.NewImageClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "prompt_url":
		provider, err := NewPromptURLProvider(cfg.Endpoint, cfg.Folder, nil)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported image provider: %s", cfg.Provider)
	}
}

// PromptURLProvider 通过 GET 一个编码了提示词的 URL 触发图片生成
// URL 形如 <endpoint>/ik-genimg-prompt-<prompt>/<folder>/<ts>.png?tr=w-800,h-800
type PromptURLProvider struct {
	endpoint   string
	folder     string
	httpClient *http.Client
	now        func() time.Time
}

// NewPromptURLProvider 创建 prompt_url provider，httpClient 为 nil 时使用默认客户端
func NewPromptURLProvider(endpoint, folder string, httpClient *http.Client) (*PromptURLProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("image endpoint is required for prompt_url provider")
	}
	if folder == "" {
		folder = "quickgpt"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &PromptURLProvider{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		folder:     folder,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// buildURL 拼接生成 URL
func (p *PromptURLProvider) buildURL(prompt string) string {
	return fmt.Sprintf("%s/ik-genimg-prompt-%s/%s/%d.png?tr=w-800,h-800",
		p.endpoint, url.PathEscape(prompt), p.folder, p.now().UnixMilli())
}

// Generate 请求生成 URL 并返回图片字节
func (p *PromptURLProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.buildURL(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("image endpoint returned: %s", strings.TrimSpace(string(body))),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrUpstream, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image endpoint returned empty body")
	}

	return data, nil
}
