package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"mailassist/internal/llm"
	"mailassist/internal/model"
	"mailassist/pkg/circuitbreaker"
	"mailassist/pkg/metrics"
	"mailassist/pkg/util"
)

// OpenAIAnalyzer 通过 chat completions（JSON 模式）分析邮件
type OpenAIAnalyzer struct {
	client      *openai.Client
	model       string
	temperature float32
	cb          *circuitbreaker.CircuitBreaker
	logger      *zap.Logger
}

func NewOpenAIAnalyzer(client *openai.Client, model string, temperature float32, logger *zap.Logger) *OpenAIAnalyzer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIAnalyzer{
		client:      client,
		model:       model,
		temperature: temperature,
		cb:          newBreaker("openai", 0, logger),
		logger:      logger,
	}
}

func (a *OpenAIAnalyzer) Name() string {
	return "openai"
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, msg *model.Message, related []model.ScoredMessage) (*model.AnalysisResult, error) {
	text, err := MessageText(msg)
	if err != nil {
		return nil, err
	}

	var content string
	err = a.cb.Execute(func() error {
		start := time.Now()
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.model,
			Temperature: a.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(msg, text, related)},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		metrics.RecordAnalysisLatency(a.Name(), metrics.StatusLabel(err), time.Since(start))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("chat completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, llm.Wrap(err, util.ErrAnalysis, util.ErrAnalysisFatal)
	}

	out, err := parseOutput(content)
	if err != nil {
		a.logger.Warn("Failed to parse model output",
			zap.Int64("email_id", msg.ID),
			zap.String("response", truncateRunes(content, 500)),
			zap.Error(err),
		)
		return nil, err
	}
	return assemble(msg, text, out, a.model), nil
}

// WithFailureThreshold 设置熔断阈值，必须大于单封邮件一个阶段内可能连续失败的调用次数
func (a *OpenAIAnalyzer) WithFailureThreshold(n int) *OpenAIAnalyzer {
	a.cb = newBreaker(a.Name(), n, a.logger)
	return a
}

// newBreaker 分析调用共用的熔断配置，threshold <= 0 时使用默认值
func newBreaker(provider string, threshold int, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.DefaultConfig()
	if threshold > 0 {
		cfg.FailureThreshold = threshold
	}
	cfg.IsFailure = llm.IsBreakerFailure
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Analysis circuit breaker state changed",
			zap.String("provider", provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return circuitbreaker.NewCircuitBreaker(cfg)
}
