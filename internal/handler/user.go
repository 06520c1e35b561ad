package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quickgpt/internal/model"
	"quickgpt/internal/repository"
)

// UserHandler 用户信息处理器
type UserHandler struct {
	users repository.UserStore
}

// NewUserHandler 创建用户信息处理器
func NewUserHandler(users repository.UserStore) *UserHandler {
	return &UserHandler{users: users}
}

// Me 获取当前用户信息（含剩余额度）
// @Summary      获取当前用户信息
// @Tags         用户
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  model.UserInfo
// @Failure      401  {object}  model.ErrorResponse
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/user/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Code:    40402,
				Message: "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to load user",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, model.UserInfo{
		ID:      user.ID,
		Name:    user.Name,
		Email:   user.Email,
		Credits: user.Credits,
	})
}
