package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"mailassist/internal/agent"
	"mailassist/pkg/config"
	"mailassist/pkg/db"
	"mailassist/pkg/otel"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	EmbedderOpenAI = "openai"
	EmbedderHash   = "hash"

	AnalyzerOpenAI    = "openai"
	AnalyzerAnthropic = "anthropic"
	AnalyzerHTTP      = "http"
)

// EmbeddingConfig embedding 相关配置
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Dimensions int           `yaml:"dimensions"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// AgentServiceConfig HTTP 分析服务
type AgentServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Config struct {
	Env   string `yaml:"-"`
	Store string `yaml:"store"`
	// SeedFile 仅 memory store 使用
	SeedFile string `yaml:"seed_file"`
	Migrate  bool   `yaml:"migrate"`

	DB        config.DBConfig        `yaml:"db"`
	Redis     config.RedisConfig     `yaml:"redis"`
	MQ        config.MQConfig        `yaml:"mq"`
	Server    config.ServerConfig    `yaml:"server"`
	OpenAI    config.OpenAIConfig    `yaml:"openai"`
	Anthropic config.AnthropicConfig `yaml:"anthropic"`
	OTel      otel.Config            `yaml:"otel"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Analyzer     string             `yaml:"analyzer"`
	AgentService AgentServiceConfig `yaml:"agent_service"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Agent        agent.Config       `yaml:"agent"`

	Monitor struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"monitor"`

	// ClaimTTL 跨进程处理权的过期时间
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

// Default 不读取任何文件时的配置
func Default() *Config {
	cfg := &Config{
		Env:      "local",
		Store:    StorePostgres,
		Analyzer: AnalyzerOpenAI,
		Agent:    agent.DefaultConfig(),
		ClaimTTL: 10 * time.Minute,
	}
	cfg.DB = config.DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "mail", SSLMode: "disable"}
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Embedding = EmbeddingConfig{Provider: EmbedderOpenAI, Dimensions: 1536, CacheTTL: 30 * 24 * time.Hour}
	cfg.AgentService.Timeout = 30 * time.Second
	cfg.Monitor.Interval = 300 * time.Second
	return cfg
}

// Load 按 CONFIG_ENV / CONFIG_DIR 加载配置，环境变量优先级最高
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	dir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, dir)
}

// LoadFrom 在默认值之上叠加 base.yaml 与 <env>.yaml
func LoadFrom(env, dir string) (*Config, error) {
	cfg := Default()
	if err := config.LoadInto(env, dir, cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOpenAIFromEnv(&cfg.OpenAI)
	config.OverrideAnthropicFromEnv(&cfg.Anthropic)
	if url := os.Getenv("AGENT_SERVICE_URL"); url != "" {
		cfg.AgentService.URL = url
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.Analyzer = strings.ToLower(strings.TrimSpace(c.Analyzer))
	c.Embedding.Provider = strings.ToLower(strings.TrimSpace(c.Embedding.Provider))
}

// Validate 只检查组合是否合法，不检查外部服务是否可达
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want postgres or memory)", c.Store)
	}
	switch c.Embedding.Provider {
	case EmbedderOpenAI, EmbedderHash:
	default:
		return fmt.Errorf("unknown embedding provider %q (want openai or hash)", c.Embedding.Provider)
	}
	switch c.Analyzer {
	case AnalyzerOpenAI, AnalyzerAnthropic:
	case AnalyzerHTTP:
		if c.AgentService.URL == "" {
			return fmt.Errorf("analyzer http requires agent_service.url")
		}
	default:
		return fmt.Errorf("unknown analyzer %q (want openai, anthropic or http)", c.Analyzer)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	// 列类型固定，维度不符时每次写 embedding 都会失败
	if c.Store == StorePostgres && c.Embedding.Dimensions != db.EmbeddingDimensions {
		return fmt.Errorf("embedding.dimensions is %d but the postgres schema stores vector(%d)",
			c.Embedding.Dimensions, db.EmbeddingDimensions)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	return nil
}

// ListenAddr 健康检查/指标服务监听地址
func (c *Config) ListenAddr() string {
	port := c.Server.Port
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}
