package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"mailassist/internal/llm"
	"mailassist/internal/model"
	"mailassist/pkg/circuitbreaker"
	"mailassist/pkg/metrics"
	"mailassist/pkg/util"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicAnalyzer 通过 Messages API 分析邮件
type AnthropicAnalyzer struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	cb        *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewAnthropicAnalyzer(client *anthropic.Client, model string, maxTokens int64, logger *zap.Logger) *AnthropicAnalyzer {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicAnalyzer{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		cb:        newBreaker("anthropic", 0, logger),
		logger:    logger,
	}
}

func (a *AnthropicAnalyzer) Name() string {
	return "anthropic"
}

// WithFailureThreshold 见 OpenAIAnalyzer.WithFailureThreshold
func (a *AnthropicAnalyzer) WithFailureThreshold(n int) *AnthropicAnalyzer {
	a.cb = newBreaker(a.Name(), n, a.logger)
	return a
}

func (a *AnthropicAnalyzer) Analyze(ctx context.Context, msg *model.Message, related []model.ScoredMessage) (*model.AnalysisResult, error) {
	text, err := MessageText(msg)
	if err != nil {
		return nil, err
	}

	var content string
	err = a.cb.Execute(func() error {
		start := time.Now()
		resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: a.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(msg, text, related))),
			},
		})
		metrics.RecordAnalysisLatency(a.Name(), metrics.StatusLabel(err), time.Since(start))
		if err != nil {
			return err
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return errors.New("message response has no text content")
		}
		content = sb.String()
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
