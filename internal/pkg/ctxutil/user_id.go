package ctxutil

import "context"

// userIDKeyType 使用私有类型避免与其他 context key 冲突
type userIDKeyType struct{}

var userIDKey = userIDKeyType{}

// WithUserID 将 userID 注入到 context 中
// 由认证中间件在校验 JWT 后调用：
//
//	ctx := ctxutil.WithUserID(c.Request.Context(), claims.UserID)
//	c.Request = c.Request.WithContext(ctx)
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID 从 context 中解析 userID
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(userIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

type userNameKeyType struct{}

var userNameKey = userNameKeyType{}

// WithUserName 将用户名注入到 context 中，用于记录对话归属
func WithUserName(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userNameKey, name)
}

// GetUserName 从 context 中解析用户名，不存在时返回空字符串
func GetUserName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(userNameKey).(string)
	return name
}
