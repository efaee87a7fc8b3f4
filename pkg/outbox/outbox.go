package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailassist/pkg/otel"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// ErrEventNotFound 事件不存在
var ErrEventNotFound = errors.New("outbox event not found")

// Event 表示一个待发布的事件
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   *int64
	RoutingKey    string
	Payload       json.RawMessage
	Status        string
	RetryCount    int
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository 提供 Outbox 表的读写
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository 创建新的 Outbox Repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, aggregate_type, aggregate_id, routing_key, payload, status,
		       retry_count, next_retry_at, created_at, updated_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID,
		&e.AggregateType,
		&e.AggregateID,
		&e.RoutingKey,
		&e.Payload,
		&e.Status,
		&e.RetryCount,
		&e.NextRetryAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertEvent 在事务中插入事件，必须与业务数据写入同一事务
func (r *Repository) InsertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	return otel.Query(ctx, "insert_outbox_event", query, func(ctx context.Context) error {
		err := tx.QueryRow(ctx, query,
			event.AggregateType,
			event.AggregateID,
			event.RoutingKey,
			event.Payload,
			event.Status,
		).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
}

func (r *Repository) listEvents(ctx context.Context, operation, query string, limit int) ([]*Event, error) {
	var events []*Event
	err := otel.Query(ctx, operation, query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return fmt.Errorf("failed to scan event: %w", err)
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	return events, err
}

// GetPendingEvents 获取到期待发送的事件（用于 Dispatcher）
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
	`
	events, err := r.listEvents(ctx, "get_pending_events", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	return events, nil
}

// GetFailedEvents 获取重试耗尽的事件（用于 replay）
func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT $1
	`
	events, err := r.listEvents(ctx, "get_failed_events", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return events, nil
}

// GetEventByID 根据 ID 获取事件
func (r *Repository) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM outbox_events WHERE id = $1`

	var event *Event
	err := otel.Query(ctx, "get_outbox_event", query, func(ctx context.Context) error {
		var err error
		event, err = scanEvent(r.db.QueryRow(ctx, query, eventID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// MarkAsSent 标记事件为已发送
func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	query := `
		UPDATE outbox_events
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1
	`
	return otel.Query(ctx, "mark_outbox_sent", query, func(ctx context.Context) error {
		if _, err := r.db.Exec(ctx, query, eventID); err != nil {
			return fmt.Errorf("failed to mark event as sent: %w", err)
		}
		return nil
	})
}

// MarkAsFailed 增加重试次数；达到 maxRetries 后置为 failed，否则按 retry_count*5s 推迟下一次重试
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	query := `
		UPDATE outbox_events
		SET retry_count   = retry_count + 1,
		    status        = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
		                         ELSE NOW() + make_interval(secs => (retry_count + 1) * 5) END,
		    updated_at    = NOW()
		WHERE id = $1
	`
	return otel.Query(ctx, "mark_outbox_failed", query, func(ctx context.Context) error {
		if _, err := r.db.Exec(ctx, query, eventID, maxRetries); err != nil {
			return fmt.Errorf("failed to mark event as failed: %w", err)
		}
		return nil
	})
}

// ResetEvent 将事件重置为 pending，由 Dispatcher 重新发送
func (r *Repository) ResetEvent(ctx context.Context, eventID int64) error {
	query := `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return otel.Query(ctx, "reset_outbox_event", query, func(ctx context.Context) error {
		if _, err := r.db.Exec(ctx, query, eventID); err != nil {
			return fmt.Errorf("failed to reset event: %w", err)
		}
		return nil
	})
}
