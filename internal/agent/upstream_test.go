package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"

	"mailassist/internal/analysis"
	"mailassist/internal/embedding"
	"mailassist/internal/repository"
	"mailassist/pkg/circuitbreaker"
	"mailassist/pkg/util"
)

// openAIStub 模拟 OpenAI 的 embeddings 和 chat completions 接口
type openAIStub struct {
	mu sync.Mutex
	// status 按请求文本决定返回码，返回 0 表示 200
	status func(path, text string) int
	calls  map[string]int
}

func newOpenAIStub(t *testing.T, status func(path, text string) int) (*openAIStub, *openai.Client) {
	t.Helper()
	s := &openAIStub{status: status, calls: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return s, openai.NewClientWithConfig(cfg)
}

func (s *openAIStub) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input    []string `json:"input"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	text := strings.Join(req.Input, " ")
	for _, m := range req.Messages {
		text += " " + m.Content
	}

	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if code := s.status(r.URL.Path, text); code != 0 {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"invalid_request_error"}}`))
		return
	}

	switch r.URL.Path {
	case "/v1/embeddings":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.6, 0.8, 0}},
			},
		})
	case "/v1/chat/completions":
		content, _ := json.Marshal(map[string]any{
			"summary":             "Client asks about the draft.",
			"key_points":          []string{"draft attached"},
			"suggested_responses": []string{"Acknowledge and review."},
		})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": string(content)}, "finish_reason": "stop"},
			},
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *openAIStub) callsTo(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func TestCredentialFailureStaysFatalAcrossPasses(t *testing.T) {
	unauthorized := func(string, string) int { return http.StatusUnauthorized }

	tests := []struct {
		name  string
		build func(t *testing.T, client *openai.Client) (embedding.Embedder, analysis.Analyzer)
	}{
		{
			name: "analyzer",
			build: func(t *testing.T, client *openai.Client) (embedding.Embedder, analysis.Analyzer) {
				return embedding.NewHashEmbedder(32), analysis.NewOpenAIAnalyzer(client, "", 0, zaptest.NewLogger(t))
			},
		},
		{
			name: "embedder",
			build: func(t *testing.T, client *openai.Client) (embedding.Embedder, analysis.Analyzer) {
				return embedding.NewOpenAIEmbedder(client, "", 0, zaptest.NewLogger(t)), newScriptedAnalyzer(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newOpenAIStub(t, unauthorized)
			emb, an := tt.build(t, client)
			repo, _ := repository.NewMemoryRepository()
			a := New(repo, emb, an, testConfig(), zaptest.NewLogger(t))
			if _, err := repo.Insert(context.Background(), respond(1, "Draft", "Please review the draft.", 0)); err != nil {
				t.Fatal(err)
			}

			// 多于默认熔断阈值的轮次：凭证错误始终中止本轮，且不计入邮件的失败次数
			for pass := 1; pass <= 8; pass++ {
				report, err := a.ProcessPending(context.Background(), "monitor", 0)
				if !util.IsFatal(err) {
					t.Fatalf("pass %d: expected fatal error, got %v", pass, err)
				}
				if report.Fatal == nil || len(report.Outcomes) != 1 {
					t.Fatalf("pass %d: unexpected report %+v", pass, report.Outcomes)
				}
				if errors.Is(report.Outcomes[0].Err, circuitbreaker.ErrCircuitBreakerOpen) {
					t.Fatalf("pass %d: credential failure hidden behind open breaker", pass)
				}
			}

			m, _ := repo.GetMessage(context.Background(), 1)
			if m.Attempts != 0 || m.Parked || m.Analyzed {
				t.Fatalf("credential failures counted against the email: %+v", m)
			}
		})
	}
}

func TestFailureIsolationWithOpenAIEmbedder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3

	stub, client := newOpenAIStub(t, func(path, text string) int {
		if path == "/v1/embeddings" && strings.Contains(text, "second") {
			return http.StatusServiceUnavailable
		}
		return 0
	})
	emb := embedding.NewOpenAIEmbedder(client, "", 0, zaptest.NewLogger(t)).
		WithFailureThreshold(cfg.BreakerThreshold())
	an := analysis.NewOpenAIAnalyzer(client, "", 0, zaptest.NewLogger(t)).
		WithFailureThreshold(cfg.BreakerThreshold())

	repo, _ := repository.NewMemoryRepository()
	a := New(repo, emb, an, cfg, zaptest.NewLogger(t))
	for i, word := range []string{"first", "second", "third"} {
		id := int64(i + 1)
		body := fmt.Sprintf("This is the %s draft for review.", word)
		if _, err := repo.Insert(context.Background(), respond(id, fmt.Sprintf("Draft %d", id), body, time.Duration(id)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	report, err := a.ProcessPending(context.Background(), "process", 0)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	failed := report.Outcomes[1]
	if failed.Status != StatusFailed || failed.State != StateEmbedding || failed.Retries != cfg.MaxRetries || failed.Attempts != 1 {
		t.Fatalf("unexpected outcome for email 2: %+v", failed)
	}
	for _, id := range []int64{1, 3} {
		m, _ := repo.GetMessage(context.Background(), id)
		if !m.Analyzed {
			t.Fatalf("email %d not analyzed: last_error=%q", id, m.LastError)
		}
	}
	// 1、3 各一次，2 用尽重试预算
	if got, want := stub.callsTo("/v1/embeddings"), 2+cfg.MaxRetries+1; got != want {
		t.Fatalf("embedding calls = %d, want %d", got, want)
	}
}

func TestOpenBreakerLeavesEmailsPending(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0

	stub, client := newOpenAIStub(t, func(path, _ string) int {
		if path == "/v1/embeddings" {
			return http.StatusServiceUnavailable
		}
		return 0
	})
	emb := embedding.NewOpenAIEmbedder(client, "", 0, zaptest.NewLogger(t)).WithFailureThreshold(1)

	repo, _ := repository.NewMemoryRepository()
	a := New(repo, emb, newScriptedAnalyzer(nil), cfg, zaptest.NewLogger(t))
	for i := int64(1); i <= 3; i++ {
		if _, err := repo.Insert(context.Background(), respond(i, "Draft", "Please review.", time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	report, err := a.ProcessPending(context.Background(), "process", 0)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if report.Count(StatusFailed) != 3 {
		t.Fatalf("outcomes = %+v", report.Outcomes)
	}
	if stub.callsTo("/v1/embeddings") != 1 {
		t.Fatalf("open breaker should short-circuit, calls = %d", stub.callsTo("/v1/embeddings"))
	}

	first, _ := repo.GetMessage(context.Background(), 1)
	if first.Attempts != 1 {
		t.Fatalf("email 1 attempts = %d, want 1", first.Attempts)
	}
	for _, id := range []int64{2, 3} {
		m, _ := repo.GetMessage(context.Background(), id)
		if m.Attempts != 0 || m.Parked {
			t.Fatalf("email %d charged for an open breaker: %+v", id, m)
		}
		if o := report.Outcomes[id-1]; !errors.Is(o.Err, circuitbreaker.ErrCircuitBreakerOpen) || o.Retries != 0 {
			t.Fatalf("email %d outcome %+v", id, o)
		}
	}
}

func TestBreakerThresholdExceedsStageBudget(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{MaxRetries: 3, Concurrency: 1}, 13},
		{Config{MaxRetries: 0, Concurrency: 1}, 4},
		{Config{MaxRetries: 2, Concurrency: 4}, 37},
	}
	for _, tt := range tests {
		if got := tt.cfg.BreakerThreshold(); got != tt.want {
			t.Errorf("BreakerThreshold(%+v) = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}
