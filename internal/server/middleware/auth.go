package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/ctxutil"
	"quickgpt/internal/pkg/jwt"
)

// Auth JWT 认证中间件
// 从 Authorization header 中提取 Bearer token，验证后注入 user_id 和用户名到 context
func Auth(jwtUtil *jwt.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    40101,
				Message: "Unauthorized",
			})
			return
		}

		// 提取 Token（Bearer {token}）
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    40101,
				Message: "Invalid authorization header",
			})
			return
		}

		claims, err := jwtUtil.ValidateToken(parts[1])
		if err != nil {
			code, msg := 40102, "Invalid token"
			if errors.Is(err, jwt.ErrExpiredToken) {
				code, msg = 40103, "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    code,
				Message: msg,
			})
			return
		}

		ctx := ctxutil.WithUserID(c.Request.Context(), claims.UserID)
		ctx = ctxutil.WithUserName(ctx, claims.Name)
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", claims.UserID)

		c.Next()
	}
}
