package marketplace

import (
	"fmt"

	"fliptools/internal/model"
)

// AuthExchangeError 授权码换取 Token 被平台拒绝
type AuthExchangeError struct {
	Platform   model.Platform
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthExchangeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: token exchange rejected [%d]: %s", e.Platform, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: token exchange failed: %s", e.Platform, e.Message)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError 刷新失败，调用方需引导用户重新授权，不做自动重试
type TokenRefreshError struct {
	Platform   model.Platform
	StatusCode int
	Message    string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: token refresh rejected [%d]: %s", e.Platform, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: token refresh failed: %s", e.Platform, e.Message)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// UserMessage 面向用户的提示
func (e *TokenRefreshError) UserMessage() string {
	return fmt.Sprintf("%s authorization expired, please reconnect %s in Settings", e.Platform, e.Platform)
}

// FetchError 单页拉取失败，适配器内部消化：停止翻页并返回已拉到的数据
type FetchError struct {
	Platform   model.Platform
	Page       int
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: sales page %d failed [%d]: %s", e.Platform, e.Page, e.StatusCode, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError 批量入库失败，整批视为失败，下一轮整体重试
type PersistError struct {
	Platform model.Platform
	Count    int
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: persist %d sales failed: %v", e.Platform, e.Count, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// UnknownPlatformError 没有对应适配器的平台标识
type UnknownPlatformError struct {
	Platform string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("unknown platform %q", e.Platform)
}

// ParsePlatform 解析平台标识
func ParsePlatform(s string) (model.Platform, error) {
	p := model.Platform(s)
	if !p.IsValid() {
		return "", &UnknownPlatformError{Platform: s}
	}
	return p, nil
}
