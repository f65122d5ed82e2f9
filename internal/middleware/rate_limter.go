package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ==================== UserRateLimiter 用户级限流器 ====================

// UserRateLimiter 每个用户一个令牌桶
// 防止前端反复点击同步打满平台 API 配额
type UserRateLimiter struct {
	limiters sync.Map // userID -> *rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserRateLimiter perMinute <= 0 时不限流
func NewUserRateLimiter(perMinute int) *UserRateLimiter {
	if perMinute <= 0 {
		return &UserRateLimiter{limit: rate.Inf}
	}
	burst := perMinute / 3
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: burst,
	}
}

// CheckResult 检查结果
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Check 尝试占用一个令牌，不允许时给出需等待的时间
func (r *UserRateLimiter) Check(userID int64) CheckResult {
	if r.limit == rate.Inf {
		return CheckResult{Allowed: true}
	}
	actual, _ := r.limiters.LoadOrStore(userID, rate.NewLimiter(r.limit, r.burst))
	limiter := actual.(*rate.Limiter)

	res := limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return CheckResult{Allowed: false, RetryAfter: delay}
	}
	return CheckResult{Allowed: true}
}
