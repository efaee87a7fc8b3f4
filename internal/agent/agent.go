// Package agent drives the per-message analysis pipeline: embed, retrieve related
// messages, analyze, persist. It owns the analyzed flag and the attempt bookkeeping.
package agent

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"mailassist/internal/analysis"
	"mailassist/internal/embedding"
	"mailassist/internal/model"
	"mailassist/internal/retrieval"
)

// Store agent 需要的存储能力，由 repository.EmailRepository 和 repository.MemoryRepository 实现
type Store interface {
	GetMessages(ctx context.Context, filter model.MessageFilter) ([]*model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	SaveEmbedding(ctx context.Context, id int64, embedding []float32) error
	// SaveAnalysis 持久化结果并置 analyzed=true，结果必须先于标志落库
	SaveAnalysis(ctx context.Context, id int64, result *model.AnalysisResult) error
	// RecordFailure 记录一次失败，达到 maxAttempts 时停放该邮件
	RecordFailure(ctx context.Context, id int64, reason string, maxAttempts int) (attempts int, parked bool, err error)
	retrieval.VectorStore
}

// Claimer 跨进程的处理权声明，可选
type Claimer interface {
	AcquireOnce(ctx context.Context, handler string, emailID int64) bool
	Release(ctx context.Context, handler string, emailID int64)
}

const claimHandler = "agent"

// Config orchestrator 配置
type Config struct {
	RelatedK int `yaml:"related_k"`
	// 额外上下文：同一发件人历史、付款记录、案件编号检索；负数关闭
	SenderHistoryK int `yaml:"sender_history_k"`
	PaymentK       int `yaml:"payment_k"`
	CaseK          int `yaml:"case_k"`


	PageSize    int           `yaml:"page_size"`
	Concurrency int           `yaml:"concurrency"`
	MaxRetries  int           `yaml:"max_retries"`
	MaxAttempts int           `yaml:"max_attempts"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		RelatedK:       retrieval.DefaultK,
		SenderHistoryK: 3,
		PaymentK:       3,
		CaseK:          3,
		PageSize:       20,
		Concurrency:    1,
		MaxRetries:     3,
		MaxAttempts:    5,
		CallTimeout:    60 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// withDefaults 零值字段回退到默认值
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RelatedK <= 0 {
		c.RelatedK = d.RelatedK
	}
	if c.SenderHistoryK == 0 {
		c.SenderHistoryK = d.SenderHistoryK
	}
	if c.PaymentK == 0 {
		c.PaymentK = d.PaymentK
	}
	if c.CaseK == 0 {
		c.CaseK = d.CaseK
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// BreakerThreshold 上游熔断阈值：大于一个阶段内所有并发邮件用尽重试预算时的连续失败次数，
// 单封邮件的失败不会让熔断打开而连累相邻邮件
func (c Config) BreakerThreshold() int {
	c = c.withDefaults()
	return (c.MaxRetries+1)*c.Concurrency*retrieval.MaxCaseQueries + 1
}

// Agent 邮件分析 orchestrator
type Agent struct {
	store     Store
	embedder  embedding.Embedder
	analyzer  analysis.Analyzer
	retriever *retrieval.Engine
	claimer   Claimer
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// Option 可选依赖
type Option func(*Agent)

// WithClock 注入时钟，用于结果时间戳
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithClaimer 启用跨进程处理权声明
func WithClaimer(c Claimer) Option {
	return func(a *Agent) { a.claimer = c }
}

// New 创建 Agent
func New(store Store, embedder embedding.Embedder, analyzer analysis.Analyzer, cfg Config, logger *zap.Logger, opts ...Option) *Agent {
	cfg = cfg.withDefaults()
	a := &Agent{
		store:     store,
		embedder:  embedder,
		analyzer:  analyzer,
		retriever: retrieval.NewEngine(store, embedder, cfg.RelatedK, logger),
		clock:     clock.New(),
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config 返回生效的配置
func (a *Agent) Config() Config {
	return a.cfg
}
