package util

import "errors"

// 错误分类：调用方用 errors.Is 判断，边界处用 %w 包装具体原因
var (
	// 存储不可达（连接断开、超时），可重试
	ErrStoreUnavailable = errors.New("store unavailable")
	// 记录不存在
	ErrNotFound = errors.New("not found")

	// Embedding 服务临时失败（限流、5xx、输入问题），可重试
	ErrEmbedding = errors.New("embedding error")
	// Embedding 凭证无效，不可重试，中止本次批处理
	ErrEmbeddingFatal = errors.New("embedding fatal")

	// 分析服务临时失败，可重试
	ErrAnalysis = errors.New("analysis error")
	// 分析服务凭证无效，不可重试，中止本次批处理
	ErrAnalysisFatal = errors.New("analysis fatal")

	// 邮件没有可分析的正文，跳过且不再重试
	ErrMalformedMessage = errors.New("malformed message")
)

// IsFatal 判断错误是否需要中止整个批处理
func IsFatal(err error) bool {
	return errors.Is(err, ErrEmbeddingFatal) || errors.Is(err, ErrAnalysisFatal)
}
