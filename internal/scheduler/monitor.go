package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"mailassist/internal/agent"
	"mailassist/pkg/util"
)

// DefaultInterval 两次批处理之间的默认间隔
const DefaultInterval = 300 * time.Second

// Runner 执行一次批处理
type Runner interface {
	ProcessPending(ctx context.Context, mode string, limit int) (*agent.Report, error)
}

// Monitor 周期性地执行批处理，新邮件事件可以提前唤醒
type Monitor struct {
	runner   Runner
	interval time.Duration
	clock    clock.Clock
	trigger  chan struct{}
	onCycle  func(*agent.Report, error)
	logger   *zap.Logger
}

// Option Monitor 可选项
type Option func(*Monitor)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithCycleHook 每轮结束后回调，此时下一轮的定时器已经创建
func WithCycleHook(fn func(*agent.Report, error)) Option {
	return func(m *Monitor) { m.onCycle = fn }
}

func NewMonitor(runner Runner, interval time.Duration, logger *zap.Logger, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		runner:   runner,
		interval: interval,
		clock:    clock.New(),
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger 请求尽快执行下一轮，不阻塞；多次调用合并为一次
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run 立即执行一轮，之后每隔 interval 执行一次，直到 ctx 取消
// 取消只在两轮之间生效，进行中的批处理会完整执行
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor started", zap.Duration("interval", m.interval))

	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			m.logger.Info("Monitor stopped", zap.Int("cycles", cycle-1))
			return nil
		}

		report, err := m.runCycle(context.WithoutCancel(ctx), cycle)

		timer := m.clock.Timer(m.interval)
		if m.onCycle != nil {
			m.onCycle(report, err)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Monitor stopped", zap.Int("cycles", cycle))
			return nil
		case <-timer.C:
		case <-m.trigger:
			timer.Stop()
			m.logger.Debug("Monitor woken up by new email")
		}
	}
}

// runCycle 执行一轮；任何错误（包括 panic）都只记录日志
func (m *Monitor) runCycle(ctx context.Context, cycle int) (report *agent.Report, err error) {
	log := m.logger.With(zap.Int("cycle", cycle))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor cycle panic: %v", r)
			log.Error("Recovered panic in monitor cycle", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	report, err = m.runner.ProcessPending(ctx, "monitor", 0)
	switch {
	case err == nil:
	case util.IsFatal(err):
		log.Error("Monitor cycle aborted by fatal error, will retry next cycle", zap.Error(err))
	default:
		log.Warn("Monitor cycle failed", zap.Error(err))
	}
	return report, err
}
