package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mailassist/internal/analysis"
	"mailassist/internal/model"
	"mailassist/internal/retrieval"
	"mailassist/pkg/circuitbreaker"
	"mailassist/pkg/logger"
	"mailassist/pkg/metrics"
	"mailassist/pkg/otel"
	"mailassist/pkg/util"
)

// errPanic 流水线内 panic 被恢复后的错误
var errPanic = errors.New("pipeline panic")

// stageError 记录失败发生的阶段
type stageError struct {
	state State
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.state, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Process 处理一封邮件。force 用于 review：忽略 analyzed 和 parked，但仍然只处理 respond 分类
// 返回的 Outcome 总是非空；致命错误同时记录在 Outcome.Err 中，由调用方决定是否中止
func (a *Agent) Process(ctx context.Context, msg *model.Message, force bool) Outcome {
	start := a.clock.Now()
	out := Outcome{EmailID: msg.ID, Message: msg, State: StatePending}
	log := logger.WithTrace(ctx, a.logger).With(zap.Int64("email_id", msg.ID))

	if reason, skip := a.precondition(msg, force); skip {
		out.Status = StatusSkipped
		out.Reason = reason
		log.Debug("Skipped email", zap.String("reason", reason))
		metrics.IncrementEmailProcessed(string(StatusSkipped))
		return out
	}

	if a.claimer != nil && !force {
		if !a.claimer.AcquireOnce(ctx, claimHandler, msg.ID) {
			out.Status = StatusSkipped
			out.Reason = "claimed by another worker"
			metrics.IncrementEmailProcessed(string(StatusSkipped))
			return out
		}
	}

	result, retries, err := a.safeRun(ctx, msg, log)
	out.Retries = retries
	out.Duration = a.clock.Now().Sub(start)

	if err == nil {
		out.Status = StatusSucceeded
		out.State = StatePersisted
		out.Analysis = result
		log.Info("Email analyzed",
			zap.String("state", string(StatePersisted)),
			zap.Int("related", len(result.RelatedMessages)),
			zap.Int("retries", retries),
			zap.Duration("duration", out.Duration),
		)
		metrics.IncrementEmailProcessed(string(StatusSucceeded))
		return out
	}

	if a.claimer != nil && !force {
		a.claimer.Release(context.WithoutCancel(ctx), claimHandler, msg.ID)
	}
	a.fail(ctx, &out, err, log)
	return out
}

// precondition 返回跳过原因
func (a *Agent) precondition(msg *model.Message, force bool) (string, bool) {
	if msg.Category != model.CategoryRespond {
		return fmt.Sprintf("category is %q, not %q", msg.Category, model.CategoryRespond), true
	}
	if force {
		return "", false
	}
	if msg.Analyzed {
		return "already analyzed", true
	}
	if msg.Parked {
		return fmt.Sprintf("parked after %d failed attempts", msg.Attempts), true
	}
	return "", false
}

// fail 分类错误并记录失败次数
func (a *Agent) fail(ctx context.Context, out *Outcome, err error, log *zap.Logger) {
	out.Err = err
	out.Reason = err.Error()

	var se *stageError
	if errors.As(err, &se) {
		out.State = se.state
	}

	retryable, errType := util.IsRetryableError(err)
	log = log.With(
		zap.String("state", string(out.State)),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)

	switch {
	case ctx.Err() != nil:
		// 批处理被取消：不计入失败次数
		out.Status = StatusFailed
		log.Warn("Email processing interrupted")
		metrics.IncrementEmailProcessed(string(StatusFailed))
		return

	case util.IsFatal(err):
		// 凭证问题与邮件无关，不计入失败次数
		out.Status = StatusFailed
		log.Error("Fatal error while processing email")
		metrics.IncrementEmailProcessed(string(StatusFailed))
		return

	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		// 上游整体不可用，邮件保持 PENDING 等下一轮，不计入失败次数
		out.Status = StatusFailed
		log.Warn("Upstream circuit open, email left pending")
		metrics.IncrementEmailProcessed(string(StatusFailed))
		return

	case errors.Is(err, util.ErrMalformedMessage):
		out.Status = StatusSkipped
		out.Attempts, out.Parked = a.recordFailure(ctx, out.EmailID, err, 1, log)
		log.Warn("Skipped malformed email")
		metrics.IncrementEmailProcessed(string(StatusSkipped))
		return
	}

	out.Status = StatusFailed
	out.Attempts, out.Parked = a.recordFailure(ctx, out.EmailID, err, a.cfg.MaxAttempts, log)
	log.Error("Email processing failed",
		zap.Int("attempts", out.Attempts),
		zap.Bool("parked", out.Parked),
	)
	metrics.IncrementEmailProcessed(string(StatusFailed))
}

func (a *Agent) recordFailure(ctx context.Context, id int64, cause error, maxAttempts int, log *zap.Logger) (int, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.CallTimeout)
	defer cancel()

	attempts, parked, err := a.store.RecordFailure(ctx, id, cause.Error(), maxAttempts)
	if err != nil {
		log.Warn("Failed to record failed attempt", zap.NamedError("record_error", err))
		return 0, false
	}
	return attempts, parked
}

// safeRun 执行流水线，panic 转换为错误
func (a *Agent) safeRun(ctx context.Context, msg *model.Message, log *zap.Logger) (result *model.AnalysisResult, retries int, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic in pipeline", zap.Any("panic", r), zap.Stack("stack"))
			result = nil
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return a.run(ctx, msg, log)
}

// run embedding → retrieval → analysis → persist
func (a *Agent) run(ctx context.Context, msg *model.Message, log *zap.Logger) (*model.AnalysisResult, int, error) {
	total := 0

	text, err := analysis.MessageText(msg)
	if err != nil {
		return nil, 0, &stageError{state: StatePending, err: err}
	}

	if len(msg.Embedding) == 0 {
		var vec []float32
		n, err := a.stage(ctx, msg.ID, StateEmbedding, log, func(ctx context.Context) error {
			var err error
			vec, err = a.embedder.Embed(ctx, text)
			return err
		})
		total += n
		if err != nil {
			return nil, total, err
		}

		n, err = a.stage(ctx, msg.ID, StateEmbedding, log, func(ctx context.Context) error {
			return a.store.SaveEmbedding(ctx, msg.ID, vec)
		})
		total += n
		if err != nil {
			return nil, total, err
		}
		msg.Embedding = vec
	}

	opts := retrieval.ContextOptions{
		K:              a.cfg.RelatedK,
		SenderHistoryK: a.cfg.SenderHistoryK,
		PaymentK:       a.cfg.PaymentK,
		HasAmounts:     len(analysis.ExtractMonetaryReferences(text)) > 0,
		CaseK:          a.cfg.CaseK,
		CaseReferences: analysis.ExtractCaseReferences(text),
	}
	var related []model.ScoredMessage
	n, err := a.stage(ctx, msg.ID, StateRetrieving, log, func(ctx context.Context) error {
		var err error
		related, err = a.retriever.Gather(ctx, msg, opts)
		return err
	})
	total += n
	if err != nil {
		return nil, total, err
	}

	var result *model.AnalysisResult
	n, err = a.stage(ctx, msg.ID, StateAnalyzing, log, func(ctx context.Context) error {
		var err error
		result, err = a.analyzer.Analyze(ctx, msg, related)
		if err == nil && result == nil {
			err = fmt.Errorf("%w: analyzer returned no result", util.ErrAnalysis)
		}
		return err
	})
	total += n
	if err != nil {
		return nil, total, err
	}
	a.stamp(result, msg, related)

	n, err = a.stage(ctx, msg.ID, StatePersisting, log, func(ctx context.Context) error {
		return a.store.SaveAnalysis(ctx, msg.ID, result)
	})
	total += n
	if err != nil {
		return nil, total, err
	}
	return result, total, nil
}

// stamp orchestrator 对结果负责的字段：id、检索结果、时间戳
func (a *Agent) stamp(result *model.AnalysisResult, msg *model.Message, related []model.ScoredMessage) {
	result.MessageID = msg.ID
	result.AnalyzedAt = a.clock.Now().UTC()
	result.RelatedMessages = make([]model.RelatedMessage, 0, len(related))
	for _, r := range related {
		result.RelatedMessages = append(result.RelatedMessages, model.RelatedMessage{
			ID:         r.Message.ID,
			Subject:    r.Message.Subject,
			Sender:     r.Message.Sender,
			ReceivedAt: r.Message.ReceivedAt,
			Score:      r.Score,
		})
	}
	if result.Model == "" {
		result.Model = analysis.NameOf(a.analyzer)
	}
}

// stage 带超时和指数退避地执行一个阶段，返回重试次数
func (a *Agent) stage(ctx context.Context, emailID int64, state State, log *zap.Logger, fn func(context.Context) error) (int, error) {
	ctx, span := otel.StageSpan(ctx, string(state), emailID)

	attempts := 0
	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		retryable, errType := util.IsRetryableError(err)
		if !retryable || ctx.Err() != nil || errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			return backoff.Permanent(err)
		}
		log.Warn("Stage failed, will retry",
			zap.String("state", string(state)),
			zap.String("error_type", errType),
			zap.Bool("retryable", retryable),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.InitialBackoff
	b.MaxInterval = a.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.MaxRetries)), ctx)

	err := backoff.Retry(op, policy)
	otel.EndSpan(span, err)
	if err != nil {
		return attempts - 1, &stageError{state: state, err: err}
	}
	return attempts - 1, nil
}
