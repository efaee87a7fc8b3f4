package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailassist/internal/llm"
	"mailassist/internal/model"
	"mailassist/pkg/circuitbreaker"
	"mailassist/pkg/metrics"
	"mailassist/pkg/trace"
	"mailassist/pkg/util"
)

// AgentClient 调用外部 agent 服务的 /analyze 接口
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewAgentClient timeout 为 0 时使用 30 秒
func NewAgentClient(baseURL string, timeout time.Duration, logger *zap.Logger) *AgentClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AgentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cb:     newBreaker("agent-service", 0, logger),
		logger: logger,
	}
}

func (c *AgentClient) Name() string {
	return "agent-service"
}

// WithFailureThreshold 见 OpenAIAnalyzer.WithFailureThreshold
func (c *AgentClient) WithFailureThreshold(n int) *AgentClient {
	c.cb = newBreaker(c.Name(), n, c.logger)
	return c
}

// AnalyzeRequest /analyze 请求体
type AnalyzeRequest struct {
	EmailID            int64                     `json:"email_id"`
	Sender             string                    `json:"sender"`
	Subject            string                    `json:"subject"`
	Body               string                    `json:"body"`
	ReceivedAt         time.Time                 `json:"received_date"`
	RelatedEmails      []model.RelatedMessage    `json:"related_emails"`
	MonetaryReferences []model.MonetaryReference `json:"monetary_references"`
	CaseReferences     []string                  `json:"case_references"`
}

func (c *AgentClient) Analyze(ctx context.Context, msg *model.Message, related []model.ScoredMessage) (*model.AnalysisResult, error) {
	text, err := MessageText(msg)
	if err != nil {
		return nil, err
	}

	reqBody := AnalyzeRequest{
		EmailID:            msg.ID,
		Sender:             msg.Sender,
		Subject:            msg.Subject,
		Body:               text,
		ReceivedAt:         msg.ReceivedAt,
		RelatedEmails:      make([]model.RelatedMessage, 0, len(related)),
		MonetaryReferences: ExtractMonetaryReferences(text),
		CaseReferences:     ExtractCaseReferences(text),
	}
	for _, r := range related {
		if r.Message == nil {
			continue
		}
		reqBody.RelatedEmails = append(reqBody.RelatedEmails, model.RelatedMessage{
			ID:         r.Message.ID,
			Subject:    r.Message.Subject,
			Sender:     r.Message.Sender,
			ReceivedAt: r.Message.ReceivedAt,
			Score:      r.Score,
		})
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", util.ErrAnalysisFatal, err)
	}

	var out *modelOutput
	err = c.cb.Execute(func() error {
		start := time.Now()
		var callErr error
		out, callErr = c.post(ctx, b)
		metrics.RecordAnalysisLatency(c.Name(), metrics.StatusLabel(callErr), time.Since(start))
		return callErr
	})
	if err != nil {
		if errors.Is(err, util.ErrAnalysis) || errors.Is(err, util.ErrAnalysisFatal) {
			return nil, err
		}
		// 熔断打开
		return nil, fmt.Errorf("%w: %w", util.ErrAnalysis, err)
	}
	return assemble(msg, text, out, c.Name()), nil
}

func (c *AgentClient) post(ctx context.Context, body []byte) (*modelOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrAnalysisFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName(), traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrAnalysis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, llm.WrapStatus(resp.StatusCode, strings.TrimSpace(string(snippet)), util.ErrAnalysis, util.ErrAnalysisFatal)
	}

	var out modelOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode agent response: %w", util.ErrAnalysis, err)
	}
	return &out, nil
}
