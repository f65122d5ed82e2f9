package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== 同步限流中间件 ====================

// SyncRateLimit 按用户限流，需挂在 JWTAuth 之后
//
//	sales.POST("/sync", middleware.SyncRateLimit(limiter), saleCtl.Sync)
func SyncRateLimit(limiter *UserRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := limiter.Check(GetUserID(c))
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds()) + 1
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": formatRetryMessage(result.RetryAfter),
				"data":    gin.H{"retry_after": retryAfter},
			})
			return
		}
		c.Next()
	}
}

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds()) + 1
	if seconds < 60 {
		return fmt.Sprintf("同步过于频繁，请 %d 秒后重试", seconds)
	}
	minutes := seconds / 60
	if rest := seconds % 60; rest != 0 {
		return fmt.Sprintf("同步过于频繁，请 %d 分 %d 秒后重试", minutes, rest)
	}
	return fmt.Sprintf("同步过于频繁，请 %d 分钟后重试", minutes)
}
