// Package llm maps provider SDK errors onto the agent's error taxonomy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"

	"mailassist/pkg/util"
)

// StatusCode 提取 SDK 错误中的 HTTP 状态码，没有时返回 0
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	return 0
}

// IsCredentialStatus 401/403 表示凭证无效，重试没有意义
func IsCredentialStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// Wrap 凭证错误包装为 fatal，其余包装为 retryable；原始错误保留在链上
func Wrap(err error, retryable, fatal error) error {
	if err == nil {
		return nil
	}
	if IsCredentialStatus(StatusCode(err)) {
		return fmt.Errorf("%w: %w", fatal, err)
	}
	return fmt.Errorf("%w: %w", retryable, err)
}

// WrapStatus 按 HTTP 状态码分类，用于不经过 SDK 的调用
func WrapStatus(status int, body string, retryable, fatal error) error {
	if IsCredentialStatus(status) {
		return fmt.Errorf("%w: status %d: %s", fatal, status, body)
	}
	return fmt.Errorf("%w: status %d: %s", retryable, status, body)
}

// IsBreakerFailure 判断错误是否计入熔断器的失败次数
// 凭证错误和调用方取消与上游是否健康无关：计入会让熔断打开，后续调用只能拿到
// 可重试的 ErrCircuitBreakerOpen，真正的 fatal 原因被掩盖
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if util.IsFatal(err) || IsCredentialStatus(StatusCode(err)) {
		return false
	}
	return true
}
