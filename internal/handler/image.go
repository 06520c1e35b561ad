package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quickgpt/internal/model"
	"quickgpt/internal/repository"
)

// ImageHandler 社区图片处理器
type ImageHandler struct {
	store repository.ConversationStore
}

// NewImageHandler 创建社区图片处理器
func NewImageHandler(store repository.ConversationStore) *ImageHandler {
	return &ImageHandler{store: store}
}

// Published 获取已公开的图片，最新的在前
func (h *ImageHandler) Published(c *gin.Context) {
	limit, _ := pagination(c)

	images, err := h.store.ListPublishedImages(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to list published images",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"images": images,
		"total":  len(images),
	})
}
