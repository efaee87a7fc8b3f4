package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan 为数据库操作创建 span
func DBSpan(ctx context.Context, operation string, query string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(operation),
			attribute.String("db.statement", query),
		),
	)
}

// WrapDBError 记录数据库错误到 span，ErrNoRows 不算错误
func WrapDBError(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Query 包装一次数据库操作（QueryRow / Query / Exec / 事务），自动添加追踪
func Query(ctx context.Context, operation string, query string, fn func(context.Context) error) error {
	ctx, span := DBSpan(ctx, operation, query)
	defer span.End()

	err := fn(ctx)
	WrapDBError(span, err)
	return err
}

// StageSpan 为流水线阶段创建 span，email_id 作为属性
func StageSpan(ctx context.Context, stage string, emailID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent."+stage,
		trace.WithAttributes(attribute.Int64("email.id", emailID)),
	)
}

// EndSpan 根据错误设置状态并结束 span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
