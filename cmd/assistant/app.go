package main

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"mailassist/internal/agent"
	"mailassist/internal/analysis"
	"mailassist/internal/config"
	"mailassist/internal/embedding"
	"mailassist/internal/repository"
	"mailassist/pkg/db"
	"mailassist/pkg/logger"
	"mailassist/pkg/mq"
	"mailassist/pkg/otel"
	"mailassist/pkg/outbox"
	"mailassist/pkg/redis"
	"mailassist/pkg/util"
)

// app 一次命令执行所需的全部依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	agent  *agent.Agent

	pool       *pgxpool.Pool
	rdb        *goredis.Client
	outboxRepo *outbox.Repository

	closers []func()
}

func loadConfig(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(opts.env, opts.configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.NewLogger(cfg.Log.Level), nil
}

// newApp 按配置装配存储、embedding、分析器和 agent
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	shutdownOtel, err := otel.Init(cfg.OTel, log)
	if err != nil {
		log.Warn("OpenTelemetry init failed, tracing disabled", zap.Error(err))
	} else {
		a.closers = append(a.closers, shutdownOtel)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.openRedis(ctx)

	emb, err := a.newEmbedder()
	if err != nil {
		a.close()
		return nil, err
	}
	analyzer, err := a.newAnalyzer()
	if err != nil {
		a.close()
		return nil, err
	}

	var agentOpts []agent.Option
	if a.rdb != nil {
		agentOpts = append(agentOpts, agent.WithClaimer(util.NewDeduper(a.rdb, cfg.ClaimTTL, log)))
	}
	a.agent = agent.New(store, emb, analyzer, cfg.Agent, log, agentOpts...)

	log.Info("Assistant ready",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store),
		zap.String("embedder", embedding.NameOf(emb)),
		zap.String("analyzer", analysis.NameOf(analyzer)),
		zap.Bool("claims", a.rdb != nil),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (agent.Store, error) {
	switch a.cfg.Store {
	case config.StoreMemory:
		repo, err := repository.NewMemoryRepository()
		if err != nil {
			return nil, err
		}
		if a.cfg.SeedFile != "" {
			n, err := repo.LoadSeedFile(ctx, a.cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			a.logger.Info("Seed emails loaded", zap.String("file", a.cfg.SeedFile), zap.Int("count", n))
		}
		return repo, nil
	default:
		pool, err := db.NewConnection(ctx, a.cfg.DB, a.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", util.ErrStoreUnavailable, err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)

		if a.cfg.Migrate {
			if err := db.Migrate(ctx, pool, a.logger); err != nil {
				return nil, err
			}
		}
		a.outboxRepo = outbox.NewRepository(pool)
		return repository.NewEmailRepository(pool, a.outboxRepo), nil
	}
}

// openRedis Redis 只用于缓存和处理权声明，不可用时降级运行
func (a *app) openRedis(ctx context.Context) {
	if a.cfg.Redis.Addr == "" {
		return
	}
	rdb := redis.NewRedisClient(a.cfg.Redis)
	if err := redis.Ping(ctx, rdb); err != nil {
		a.logger.Warn("Redis unavailable, running without cache and claims",
			zap.String("addr", a.cfg.Redis.Addr),
			zap.Error(err),
		)
		_ = rdb.Close()
		return
	}
	a.rdb = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
}

func (a *app) openAIClient() (*openai.Client, error) {
	if a.cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("openai.api_key is required (set OPENAI_API_KEY)")
	}
	oc := openai.DefaultConfig(a.cfg.OpenAI.APIKey)
	if a.cfg.OpenAI.BaseURL != "" {
		oc.BaseURL = a.cfg.OpenAI.BaseURL
	}
	return openai.NewClientWithConfig(oc), nil
}

func (a *app) newEmbedder() (embedding.Embedder, error) {
	if a.cfg.Embedding.Provider == config.EmbedderHash {
		return embedding.NewHashEmbedder(a.cfg.Embedding.Dimensions), nil
	}

	client, err := a.openAIClient()
	if err != nil {
		return nil, err
	}
	model := a.cfg.OpenAI.EmbeddingModel
	var emb embedding.Embedder = embedding.NewOpenAIEmbedder(client, model, a.cfg.Embedding.Dimensions, a.logger).
		WithFailureThreshold(a.cfg.Agent.BreakerThreshold())
	if a.rdb != nil {
		namespace := fmt.Sprintf("openai:%s:%d", model, a.cfg.Embedding.Dimensions)
		emb = embedding.NewCachedEmbedder(emb, a.rdb, namespace, a.cfg.Embedding.CacheTTL, a.logger)
	}
	return emb, nil
}

// newAnalyzer 熔断阈值按 agent 的重试预算计算，见 agent.Config.BreakerThreshold
func (a *app) newAnalyzer() (analysis.Analyzer, error) {
	threshold := a.cfg.Agent.BreakerThreshold()
	switch a.cfg.Analyzer {
	case config.AnalyzerHTTP:
		return analysis.NewAgentClient(a.cfg.AgentService.URL, a.cfg.AgentService.Timeout, a.logger).
			WithFailureThreshold(threshold), nil
	case config.AnalyzerAnthropic:
		if a.cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic.api_key is required (set ANTHROPIC_API_KEY)")
		}
		client := anthropic.NewClient(option.WithAPIKey(a.cfg.Anthropic.APIKey))
		return analysis.NewAnthropicAnalyzer(&client, a.cfg.Anthropic.Model, a.cfg.Anthropic.MaxTokens, a.logger).
			WithFailureThreshold(threshold), nil
	default:
		client, err := a.openAIClient()
		if err != nil {
			return nil, err
		}
		return analysis.NewOpenAIAnalyzer(client, a.cfg.OpenAI.AnalysisModel, a.cfg.OpenAI.Temperature, a.logger).
			WithFailureThreshold(threshold), nil
	}
}

// flushOutbox 单次命令结束前把本次产生的 email.analyzed 事件发出去；monitor 由常驻 Dispatcher 负责
func (a *app) flushOutbox(ctx context.Context) {
	if a.outboxRepo == nil || a.cfg.MQ.URL == "" {
		return
	}
	publisher, err := mq.NewPublisher(a.cfg.MQ.URL)
	if err != nil {
		a.logger.Warn("MQ unavailable, outbox events stay pending", zap.Error(err))
		return
	}
	defer publisher.Close()

	n := outbox.NewDispatcher(a.outboxRepo, publisher, a.logger).Flush(ctx)
	if n > 0 {
		a.logger.Info("Outbox events published", zap.Int("count", n))
	}
}

// close 逆序释放资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
