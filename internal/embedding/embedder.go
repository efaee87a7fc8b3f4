package embedding

import "context"

// Embedder 把文本转为固定维度的向量
// 失败时返回 util.ErrEmbedding（可重试）或 util.ErrEmbeddingFatal（凭证问题）
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Named 返回用于日志和指标的提供方名称
type Named interface {
	Name() string
}

// NameOf 没有实现 Named 时返回 "unknown"
func NameOf(e Embedder) string {
	if n, ok := e.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// maxInputRunes 约等于 text-embedding-3 的 8k token 上限
const maxInputRunes = 24000

func truncateInput(text string) string {
	r := []rune(text)
	if len(r) <= maxInputRunes {
		return text
	}
	return string(r[:maxInputRunes])
}
