package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/cache"
	"quickgpt/internal/pkg/ctxutil"
	"quickgpt/internal/repository"
)

// ConversationCache 对话详情缓存
// 读路径用 SetNX 回填，写路径用 StoreConversation 写回，读到的旧版本不会覆盖提交后的版本
type ConversationCache interface {
	Get(ctx context.Context, key string, dest any) error
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	StoreConversation(ctx context.Context, conv *model.Conversation) error
	Delete(ctx context.Context, keys ...string) error
}

// ConversationHandler 对话管理处理器
type ConversationHandler struct {
	store repository.ConversationStore
	cache ConversationCache
}

// NewConversationHandler 创建对话管理处理器
func NewConversationHandler(store repository.ConversationStore) *ConversationHandler {
	return &ConversationHandler{store: store}
}

// WithCache 设置对话详情缓存
func (h *ConversationHandler) WithCache(c ConversationCache) *ConversationHandler {
	h.cache = c
	return h
}

// Create 创建对话
// @Summary      创建对话
// @Tags         对话
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      model.CreateConversationRequest  false  "对话"
// @Success      201      {object}  model.Conversation
// @Router       /api/v1/chats [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.CreateConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	conv := &model.Conversation{
		UserID:   userID,
		UserName: ctxutil.GetUserName(c.Request.Context()),
		Title:    strings.TrimSpace(req.Title),
		Messages: []model.Turn{},
	}

	if err := h.store.Create(c.Request.Context(), conv); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to create conversation",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// List 获取当前用户的对话列表
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	convs, err := h.store.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to list conversations",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": convs,
		"total":         len(convs),
	})
}

// Get 获取对话详情，优先读缓存
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	key := cache.ConversationCacheKey(id)

	if h.cache != nil {
		var cached model.Conversation
		if err := h.cache.Get(ctx, key, &cached); err == nil && cached.UserID == userID {
			c.JSON(http.StatusOK, &cached)
			return
		}
	}

	conv, err := h.store.Load(ctx, userID, id)
	if err != nil {
		h.storeError(c, err, "Failed to load conversation")
		return
	}

	if h.cache != nil {
		if _, err := h.cache.SetNX(ctx, key, conv, cache.ConversationCacheTTL); err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("failed to cache conversation")
		}
	}

	c.JSON(http.StatusOK, conv)
}

// Rename 修改对话标题
func (h *ConversationHandler) Rename(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		badRequest(c, "title must not be blank", nil)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.store.Rename(ctx, userID, id, title); err != nil {
		h.storeError(c, err, "Failed to rename conversation")
		return
	}
	h.writeBack(ctx, userID, id)

	c.JSON(http.StatusOK, gin.H{
		"message": "Conversation renamed",
	})
}

// Delete 删除对话
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), userID, id); err != nil {
		h.storeError(c, err, "Failed to delete conversation")
		return
	}
	h.invalidate(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{
		"message": "Conversation deleted",
	})
}

// writeBack 重命名后写回最新的对话，读取失败时退化为删除缓存
func (h *ConversationHandler) writeBack(ctx context.Context, userID, id string) {
	if h.cache == nil {
		return
	}
	conv, err := h.store.Load(ctx, userID, id)
	if err == nil {
		err = h.cache.StoreConversation(ctx, conv)
	}
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", id).Msg("failed to write back conversation cache")
		h.invalidate(ctx, id)
	}
}

func (h *ConversationHandler) invalidate(ctx context.Context, id string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, cache.ConversationCacheKey(id)); err != nil {
		log.Warn().Err(err).Str("conversation_id", id).Msg("failed to invalidate conversation cache")
	}
}

func (h *ConversationHandler) storeError(c *gin.Context, err error, msg string) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40401,
			Message: "Conversation not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Code:    50001,
		Message: msg,
		Detail:  err.Error(),
	})
}
