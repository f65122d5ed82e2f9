package net

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// BearerRequest 统一鉴权头
// apiKey 非空时附带 x-api-key (Etsy 要求)
func BearerRequest(ctx context.Context, client *resty.Client, accessToken, apiKey string) *resty.Request {
	req := client.R().
		SetContext(ctx).
		SetAuthToken(accessToken)
	if apiKey != "" {
		req.SetHeader("x-api-key", apiKey)
	}
	return req
}

// DecodeJSON 解析响应体
func DecodeJSON(resp *resty.Response, out any) error {
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}

// ErrorMessage 截取错误响应，避免日志过长
func ErrorMessage(resp *resty.Response) string {
	body := resp.String()
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return resp.Status()
	}
	return body
}
