package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailassist/pkg/metrics"
)

// CachedEmbedder 用 Redis 缓存 embedding，Redis 出错时直接调用下游
type CachedEmbedder struct {
	next      Embedder
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCachedEmbedder namespace 通常是模型名，切换模型后缓存自然失效
func NewCachedEmbedder(next Embedder, rdb *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		next:      next,
		rdb:       rdb,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *CachedEmbedder) Name() string {
	if n, ok := c.next.(Named); ok {
		return n.Name() + "+cache"
	}
	return "cache"
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s", c.namespace, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, decodeErr := decodeFloats(data); decodeErr == nil {
			metrics.IncrementEmbeddingCache("hit")
			return vec, nil
		}
		metrics.IncrementEmbeddingCache("error")
	case errors.Is(err, redis.Nil):
		metrics.IncrementEmbeddingCache("miss")
	default:
		metrics.IncrementEmbeddingCache("error")
		c.logger.Warn("Embedding cache read failed, calling provider", zap.Error(err))
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.rdb.Set(ctx, key, encodeFloats(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

func encodeFloats(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloats(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid cached embedding length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
