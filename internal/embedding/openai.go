package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"mailassist/internal/llm"
	"mailassist/pkg/circuitbreaker"
	"mailassist/pkg/metrics"
	"mailassist/pkg/util"
)

// OpenAIEmbedder 调用 OpenAI embeddings 接口，带熔断保护
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewOpenAIEmbedder dimensions 为 0 时不校验返回向量的维度
func NewOpenAIEmbedder(client *openai.Client, model string, dimensions int, logger *zap.Logger) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
		cb:         newBreaker(0, logger),
		logger:     logger,
	}
}

// WithFailureThreshold 设置熔断阈值，必须大于单封邮件一个阶段内可能连续失败的调用次数
func (e *OpenAIEmbedder) WithFailureThreshold(n int) *OpenAIEmbedder {
	e.cb = newBreaker(n, e.logger)
	return e
}

// newBreaker threshold <= 0 时使用默认值
func newBreaker(threshold int, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.DefaultConfig()
	if threshold > 0 {
		cfg.FailureThreshold = threshold
	}
	cfg.IsFailure = llm.IsBreakerFailure
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Embedding circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return circuitbreaker.NewCircuitBreaker(cfg)
}

func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", util.ErrEmbedding)
	}

	var vec []float32
	err := e.cb.Execute(func() error {
		start := time.Now()
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{truncateInput(text)},
			Model: openai.EmbeddingModel(e.model),
		})
		metrics.RecordEmbeddingLatency(e.Name(), metrics.StatusLabel(err), time.Since(start))
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("embeddings response has no data")
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, llm.Wrap(err, util.ErrEmbedding, util.ErrEmbeddingFatal)
	}

	// 维度不符是配置错误，每封邮件都会失败
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, store expects %d",
			util.ErrEmbeddingFatal, e.model, len(vec), e.dimensions)
	}
	return vec, nil
}
