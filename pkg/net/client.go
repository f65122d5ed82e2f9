package net

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientOptions HTTP 客户端配置
type ClientOptions struct {
	Timeout    time.Duration
	RetryCount int
	ProxyURL   string
	UserAgent  string
	// RatePerSecond 每秒请求数，<=0 不限速
	RatePerSecond float64
	Burst         int
	Debug         bool
}

// DefaultClientOptions 默认配置
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:       20 * time.Second,
		RetryCount:    2,
		UserAgent:     "FlipTools/1.0",
		RatePerSecond: 5,
		Burst:         5,
	}
}

// NewClient 创建平台 API 客户端
// 每个适配器独享一个，限速互不影响
func NewClient(opts ClientOptions, log *zap.Logger) *resty.Client {
	if log == nil {
		log = zap.NewNop()
	}

	client := resty.New().
		SetDebug(opts.Debug).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json")

	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}

	if opts.RetryCount > 0 {
		client.SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(300 * time.Millisecond).
			SetRetryMaxWaitTime(3 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			})
	}

	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
		client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
	}

	client.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		if r.IsError() {
			log.Debug("平台接口返回错误",
				zap.String("method", r.Request.Method),
				zap.String("url", r.Request.URL),
				zap.Int("status", r.StatusCode()),
				zap.Duration("latency", r.Time()),
			)
		}
		return nil
	})

	return client
}
