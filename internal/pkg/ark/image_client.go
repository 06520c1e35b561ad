package ark

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	"quickgpt/internal/config"
)

const (
	defaultBaseURL    = "https://ark.cn-beijing.volces.com/api/v3"
	defaultImageModel = "doubao-seedream-3-0-t2i-250415"
	defaultImageSize  = "1024x1024"
)

// ImageClient Ark 图片生成客户端
// 调用火山引擎 Ark API 生成图片，返回原始图片字节
type ImageClient struct {
	client *arkruntime.Client
	model  string
	size   string
}

// NewImageClient 创建 Ark 图片生成客户端
func NewImageClient(cfg *config.ImageConfig) (*ImageClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ark image api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultImageModel
	}
	size := cfg.Size
	if size == "" {
		size = defaultImageSize
	}

	arkClient := arkruntime.NewClientWithApiKey(cfg.APIKey, arkruntime.WithBaseUrl(baseURL))

	return &ImageClient{
		client: arkClient,
		model:  modelName,
		size:   size,
	}, nil
}

// Generate 根据提示词生成一张图片
func (c *ImageClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	size := c.size
	responseFormat := "b64_json"
	watermark := false

	input := model.GenerateImagesRequest{
		Model:          c.model,
		Prompt:         prompt,
		Size:           &size,
		ResponseFormat: &responseFormat,
		Watermark:      &watermark,
	}

	output, err := c.client.GenerateImages(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Msg("failed to call Ark GenerateImages API")
		return nil, fmt.Errorf("ark generate images: %w", err)
	}

	if len(output.Data) == 0 {
		return nil, fmt.Errorf("no image data in response")
	}

	first := output.Data[0]
	if first.B64Json == nil {
		return nil, fmt.Errorf("no b64_json in response data")
	}

	imageData, err := base64.StdEncoding.DecodeString(*first.B64Json)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image data: %w", err)
	}

	return imageData, nil
}
