package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailassist/internal/model"
	"mailassist/pkg/logger"
	"mailassist/pkg/metrics"
	"mailassist/pkg/otel"
	"mailassist/pkg/trace"
	"mailassist/pkg/util"
)

// ProcessPending 处理当前所有待分析邮件（respond、未分析、未停放），limit<=0 表示不限
// 致命错误中止本次批处理并返回；其他失败只体现在 Outcome 中
func (a *Agent) ProcessPending(ctx context.Context, mode string, limit int) (*Report, error) {
	ctx, traceID := trace.Ensure(ctx)
	report := &Report{
		PassID:    uuid.NewString(),
		Mode:      mode,
		StartedAt: a.clock.Now(),
	}
	log := logger.WithTrace(ctx, a.logger).With(
		zap.String("pass_id", report.PassID),
		zap.String("mode", mode),
	)

	ctx, span := otel.StartSpan(ctx, "agent.pass")
	span.SetAttributes(
		attribute.String("agent.pass_id", report.PassID),
		attribute.String("agent.mode", mode),
	)

	err := a.runPass(ctx, report, limit, log)

	report.FinishedAt = a.clock.Now()
	span.SetAttributes(attribute.Int("agent.messages", len(report.Outcomes)))
	otel.EndSpan(span, err)
	metrics.RecordPassDuration(mode, report.Duration())

	fields := []zap.Field{
		zap.String("trace_id", traceID),
		zap.Int("succeeded", report.Count(StatusSucceeded)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Duration("duration", report.Duration()),
	}
	if err != nil {
		log.Error("Pass aborted", append(fields, zap.Error(err))...)
		return report, err
	}
	log.Info("Pass finished", fields...)
	return report, nil
}

// runPass keyset 分页遍历待处理邮件，同一轮内每封邮件最多被访问一次
func (a *Agent) runPass(ctx context.Context, report *Report, limit int, log *zap.Logger) error {
	filter := model.PendingFilter(a.cfg.PageSize)

	for {
		pageSize := a.cfg.PageSize
		if limit > 0 {
			remaining := limit - len(report.Outcomes)
			if remaining <= 0 {
				return nil
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}
		filter.Limit = pageSize

		var page []*model.Message
		if _, err := a.stage(ctx, 0, StatePending, log, func(ctx context.Context) error {
			var err error
			page, err = a.store.GetMessages(ctx, filter)
			return err
		}); err != nil {
			return fmt.Errorf("select pending emails: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		outcomes, err := a.processPage(ctx, page)
		report.Outcomes = append(report.Outcomes, outcomes...)
		if err != nil {
			report.Fatal = err
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		last := page[len(page)-1]
		filter.AfterReceivedAt = last.ReceivedAt
		filter.AfterID = last.ID

		if len(page) < pageSize {
			return nil
		}
	}
}

// processPage 以 cfg.Concurrency 为上限并发处理一页；遇到致命错误时不再启动新的邮件
func (a *Agent) processPage(ctx context.Context, page []*model.Message) ([]Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	var mu sync.Mutex
	results := make([]*Outcome, len(page))

	for i, msg := range page {
		i, msg := i, msg
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := a.Process(gctx, msg, false)

			mu.Lock()
			results[i] = &out
			mu.Unlock()

			if util.IsFatal(out.Err) {
				return out.Err
			}
			return nil
		})
	}
	err := g.Wait()

	outcomes := make([]Outcome, 0, len(page))
	for _, o := range results {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes, err
}

// ErrNotRespond review 的邮件不是 respond 分类
var ErrNotRespond = errors.New("email is not in the respond category")

// Review 强制重新分析一封邮件，忽略 analyzed 和 parked 标志
func (a *Agent) Review(ctx context.Context, id int64) (*Report, error) {
	ctx, _ = trace.Ensure(ctx)
	report := &Report{
		PassID:    uuid.NewString(),
		Mode:      "review",
		StartedAt: a.clock.Now(),
	}
	log := logger.WithTrace(ctx, a.logger).With(zap.String("pass_id", report.PassID), zap.Int64("email_id", id))

	var msg *model.Message
	if _, err := a.stage(ctx, id, StatePending, log, func(ctx context.Context) error {
		var err error
		msg, err = a.store.GetMessage(ctx, id)
		return err
	}); err != nil {
		report.FinishedAt = a.clock.Now()
		return report, fmt.Errorf("load email %d: %w", id, err)
	}

	out := a.Process(ctx, msg, true)
	report.Outcomes = append(report.Outcomes, out)
	report.FinishedAt = a.clock.Now()
	metrics.RecordPassDuration("review", report.Duration())

	switch {
	case util.IsFatal(out.Err):
		report.Fatal = out.Err
		return report, out.Err
	case out.Status == StatusSkipped && msg.Category != model.CategoryRespond:
		return report, fmt.Errorf("review email %d: %w", id, ErrNotRespond)
	}
	return report, nil
}
