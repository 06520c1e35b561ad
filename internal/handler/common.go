package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/ctxutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// currentUserID 读取认证中间件注入的 user_id，缺失时直接返回 401
func currentUserID(c *gin.Context) (string, bool) {
	userID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{
			Code:    40101,
			Message: "Unauthorized",
		})
		return "", false
	}
	return userID, true
}

// pagination 解析 limit/offset 查询参数
func pagination(c *gin.Context) (limit, offset int64) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", ""), 10, 64)
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset, err = strconv.ParseInt(c.DefaultQuery("offset", ""), 10, 64)
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func badRequest(c *gin.Context, msg string, err error) {
	resp := model.ErrorResponse{
		Code:    40001,
		Message: msg,
	}
	if err != nil {
		resp.Detail = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}
