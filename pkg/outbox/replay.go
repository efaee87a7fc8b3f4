package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayStore ReplayService 依赖的 outbox 存储
type ReplayStore interface {
	GetEventByID(ctx context.Context, eventID int64) (*Event, error)
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	ResetEvent(ctx context.Context, eventID int64) error
}

// ReplayService 把失败的事件重新放回 pending，由 Dispatcher 发送
type ReplayService struct {
	repo   ReplayStore
	logger *zap.Logger
}

// NewReplayService 创建新的 ReplayService
func NewReplayService(repo ReplayStore, logger *zap.Logger) *ReplayService {
	return &ReplayService{repo: repo, logger: logger}
}

// ReplayEvent 重放指定的事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status == StatusPending {
		return nil
	}

	if err := s.repo.ResetEvent(ctx, eventID); err != nil {
		return err
	}

	s.logger.Info("Outbox event reset for replay",
		zap.Int64("event_id", eventID),
		zap.String("routing_key", event.RoutingKey),
		zap.String("previous_status", event.Status),
	)
	return nil
}

// ReplayFailedEvents 重放最近 limit 个失败事件，返回成功重置的数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Error("Failed to replay event",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		replayed++
	}
	return replayed, nil
}
