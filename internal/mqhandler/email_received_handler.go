package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "mailassist/contracts/mq"
	"mailassist/internal/model"
	"mailassist/pkg/logger"
)

// Waker 收到新邮件时唤醒 monitor
type Waker interface {
	Trigger()
}

// EmailReceivedHandler 消费 email.received，只负责唤醒 monitor，分析仍在 monitor 的批处理中完成
type EmailReceivedHandler struct {
	waker  Waker
	logger *zap.Logger
}

func NewEmailReceivedHandler(waker Waker, logger *zap.Logger) *EmailReceivedHandler {
	return &EmailReceivedHandler{
		waker:  waker,
		logger: logger,
	}
}

// HandleEmailReceived 幂等：重复投递只会多一次合并后的唤醒
func (h *EmailReceivedHandler) HandleEmailReceived(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.EmailReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal email received payload", zap.Error(err))
		return err
	}

	// 分类未知时也唤醒：ingestion 可能稍后才写入分类
	if p.Category != "" {
		if c, ok := model.ParseCategory(p.Category); ok && c != model.CategoryRespond {
			log.Debug("Ignoring email outside respond category",
				zap.Int64("email_id", p.EmailID),
				zap.String("category", p.Category),
			)
			return nil
		}
	}

	log.Info("New email received, waking monitor", zap.Int64("email_id", p.EmailID))
	h.waker.Trigger()
	return nil
}
