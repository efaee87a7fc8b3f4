package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailassist/internal/embedding"
	"mailassist/internal/model"
	"mailassist/pkg/otel"
)

// DefaultK 未指定 k 时返回的相关邮件数
const DefaultK = 5

// ErrNoEmbedding 输入邮件还没有 embedding
var ErrNoEmbedding = errors.New("message has no embedding")

// VectorStore 检索依赖的存储能力
type VectorStore interface {
	VectorSearch(ctx context.Context, embedding []float32, k int, filter model.MessageFilter) ([]model.ScoredMessage, error)
}

// Filters 检索过滤条件，零值表示不过滤
type Filters struct {
	Sender string
	Since  time.Time
	Until  time.Time
	// HasMonetaryReferences 只保留分析结果中含金额引用的邮件
	HasMonetaryReferences bool
}

// Engine 相关邮件检索，只读
type Engine struct {
	store    VectorStore
	embedder embedding.Embedder
	defaultK int
	logger   *zap.Logger
}

func NewEngine(store VectorStore, embedder embedding.Embedder, defaultK int, logger *zap.Logger) *Engine {
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		defaultK: defaultK,
		logger:   logger,
	}
}

// FindRelated 返回与 msg 最相似的 k 封邮件（不含 msg 本身），按分数降序，同分时较新的在前
func (e *Engine) FindRelated(ctx context.Context, msg *model.Message, k int, f Filters) ([]model.ScoredMessage, error) {
	if len(msg.Embedding) == 0 {
		return nil, fmt.Errorf("find related for email %d: %w", msg.ID, ErrNoEmbedding)
	}
	if k <= 0 {
		k = e.defaultK
	}

	filter := f.toMessageFilter()
	filter.ExcludeID = msg.ID
	return e.search(ctx, msg.Embedding, k, filter, msg.ID)
}

// Search 自由文本检索：先计算查询文本的 embedding，再做同样的向量检索
func (e *Engine) Search(ctx context.Context, text string, k int, f Filters) ([]model.ScoredMessage, error) {
	if k <= 0 {
		k = e.defaultK
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.search(ctx, vec, k, f.toMessageFilter(), 0)
}

func (e *Engine) search(ctx context.Context, vec []float32, k int, filter model.MessageFilter, excludeID int64) ([]model.ScoredMessage, error) {
	ctx, span := otel.StartSpan(ctx, "retrieval.search")
	span.SetAttributes(attribute.Int("retrieval.k", k))

	results, err := e.store.VectorSearch(ctx, vec, k, filter)
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	out := make([]model.ScoredMessage, 0, len(results))
	for _, r := range results {
		if r.Message == nil || (excludeID != 0 && r.Message.ID == excludeID) {
			continue
		}
		out = append(out, r)
	}
	sortScored(out)
	if len(out) > k {
		out = out[:k]
	}

	e.logger.Debug("Vector search finished",
		zap.Int("k", k),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// sortScored 分数降序，同分按收件时间降序，再按 id 降序
func sortScored(s []model.ScoredMessage) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Message.ReceivedAt.Equal(b.Message.ReceivedAt) {
			return a.Message.ReceivedAt.After(b.Message.ReceivedAt)
		}
		return a.Message.ID > b.Message.ID
	})
}

func (f Filters) toMessageFilter() model.MessageFilter {
	return model.MessageFilter{
		Sender:                f.Sender,
		Since:                 f.Since,
		Until:                 f.Until,
		HasMonetaryReferences: f.HasMonetaryReferences,
	}
}
