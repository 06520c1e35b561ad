package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quickgpt/internal/model"
)

// Exchanger 消息交换
type Exchanger interface {
	SendText(ctx context.Context, userID string, req *model.TextMessageRequest) *model.ExchangeResult
	SendImage(ctx context.Context, userID string, req *model.ImageMessageRequest) *model.ExchangeResult
}

// MessageHandler 消息处理器
type MessageHandler struct {
	svc Exchanger
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(svc Exchanger) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// Text 发送文本消息
// @Summary      发送文本消息
// @Description  追加提问并获取 AI 回复，成功扣除 1 额度
// @Tags         消息
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      model.TextMessageRequest  true  "消息"
// @Success      200      {object}  model.ExchangeResult
// @Failure      402      {object}  model.ExchangeResult
// @Failure      404      {object}  model.ExchangeResult
// @Failure      429      {object}  model.ExchangeResult
// @Failure      502      {object}  model.ExchangeResult
// @Router       /api/v1/messages/text [post]
func (h *MessageHandler) Text(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.TextMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(c, "prompt must not be blank", nil)
		return
	}

	res := h.svc.SendText(c.Request.Context(), userID, &req)
	c.JSON(exchangeStatus(res), res)
}

// Image 发送图片生成请求
// @Summary      生成图片
// @Description  根据提问生成图片，成功扣除 2 额度
// @Tags         消息
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      model.ImageMessageRequest  true  "消息"
// @Success      200      {object}  model.ExchangeResult
// @Failure      402      {object}  model.ExchangeResult
// @Router       /api/v1/messages/image [post]
func (h *MessageHandler) Image(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.ImageMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(c, "prompt must not be blank", nil)
		return
	}

	res := h.svc.SendImage(c.Request.Context(), userID, &req)
	c.JSON(exchangeStatus(res), res)
}

// exchangeStatus 失败原因到 HTTP 状态码的映射
func exchangeStatus(res *model.ExchangeResult) int {
	if res.Success {
		return http.StatusOK
	}

	switch res.Reason {
	case model.ReasonInsufficientCredit:
		return http.StatusPaymentRequired
	case model.ReasonNotFound:
		return http.StatusNotFound
	case model.ReasonRateLimited:
		return http.StatusTooManyRequests
	case model.ReasonUpstreamError:
		return http.StatusBadGateway
	case model.ReasonTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
