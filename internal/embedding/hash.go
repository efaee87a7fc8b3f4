package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"mailassist/pkg/util"
)

// HashEmbedder 离线/测试用的确定性 embedder：按词做特征哈希，相同词汇的文本向量相近
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Name() string {
	return "hash"
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens in input", util.ErrEmbedding)
	}

	vec := make([]float32, h.dim)
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		// 高位 bit 决定符号，减少碰撞带来的偏差
		if (sum>>32)&1 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// 正负完全抵消，退化到第一个 token 的位置
		f := fnv.New64a()
		_, _ = f.Write([]byte(tokens[0]))
		vec[int(f.Sum64()%uint64(h.dim))] = 1
		norm = 1
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
