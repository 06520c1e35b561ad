package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"quickgpt/internal/model"
	"quickgpt/internal/pkg/ctxutil"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTimeout   = 30 * time.Minute
)

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// UserRateLimiter 按用户的令牌桶限流器
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter 创建按用户限流器，limit 为每秒请求数
func NewUserRateLimiter(limit float64, burst int) *UserRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &UserRateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Limit(limit),
		burst:    burst,
	}
}

// Allow 判断该用户本次请求是否放行
func (l *UserRateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastAccess = time.Now()
	l.mu.Unlock()

	return ul.limiter.Allow()
}

// Sweep 清理长时间未使用的限流器
func (l *UserRateLimiter) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for userID, ul := range l.limiters {
		if ul.lastAccess.Before(cutoff) {
			delete(l.limiters, userID)
			removed++
		}
	}
	return removed
}

// Run 定期清理，直到 ctx 结束
func (l *UserRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(limiterIdleTimeout); n > 0 {
				log.Debug().Int("removed", n).Msg("swept idle rate limiters")
			}
		}
	}
}

// RateLimit 消息接口的限流中间件，需放在 Auth 之后
func RateLimit(l *UserRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.limit <= 0 {
			c.Next()
			return
		}

		userID, ok := ctxutil.GetUserID(c.Request.Context())
		if !ok {
			userID = c.ClientIP()
		}

		if !l.Allow(userID) {
			log.Warn().Str("user_id", userID).Str("path", c.Request.URL.Path).Msg("request rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.ExchangeResult{
				Success: false,
				Reason:  model.ReasonRateLimited,
				Message: "Too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}
