package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/ctxutil"
)

// UserProvisioner 按需创建用户
type UserProvisioner interface {
	CreateIfMissing(ctx context.Context, user *model.User) (bool, error)
}

// ProvisionUser 为首次访问的已认证用户创建账户并发放初始额度
// 仅在没有外部用户库（内存存储）时挂载，必须放在 Auth 之后
func ProvisionUser(users UserProvisioner, credits int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, ok := ctxutil.GetUserID(ctx)
		if !ok || userID == "" {
			c.Next()
			return
		}

		created, err := users.CreateIfMissing(ctx, &model.User{
			ID:      userID,
			Name:    ctxutil.GetUserName(ctx),
			Credits: credits,
		})
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("failed to provision user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Failed to load user",
			})
			return
		}
		if created {
			log.Info().Str("user_id", userID).Int64("credits", credits).Msg("provisioned new user")
		}

		c.Next()
	}
}
