package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"mailassist/pkg/circuitbreaker"
)

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 业务分类优先于底层原因
	switch {
	case errors.Is(err, ErrEmbeddingFatal):
		return false, "embedding_fatal"
	case errors.Is(err, ErrAnalysisFatal):
		return false, "analysis_fatal"
	case errors.Is(err, ErrMalformedMessage):
		return false, "malformed_message"
	case errors.Is(err, ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return false, "email_not_found"
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		return true, "circuit_open"
	case errors.Is(err, ErrStoreUnavailable):
		return true, "store_unavailable"
	case errors.Is(err, ErrEmbedding):
		return true, "embedding_error"
	case errors.Is(err, ErrAnalysis):
		return true, "analysis_error"
	}

	// Context timeout - 可重试；取消 - 不可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// Network errors - 可重试
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "duplicate key") {
		// 唯一约束冲突 - 不可重试（幂等性）
		return false, "duplicate_key"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return true, "db_connection_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}
