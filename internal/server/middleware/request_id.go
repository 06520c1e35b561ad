package middleware

import (
	"github.com/gin-gonic/gin"

	"quickgpt/internal/pkg/id"
)

// RequestIDHeader 请求ID的 header 名称
const RequestIDHeader = "X-Request-ID"

// RequestID 为每个请求分配请求ID，客户端传入合法 UUID 时沿用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if !id.IsValid(requestID) {
			requestID = id.New()
		}

		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}
