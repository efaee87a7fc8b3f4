package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SETNX 的处理权声明，Redis 不可用时放行
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(handler string, emailID int64) string {
	return fmt.Sprintf("dedup:%s:%d", handler, emailID)
}

// AcquireOnce tries to acquire a dedup lock for a given handler + emailID
// returns true if this caller may process the email
// returns false if another worker holds the claim
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, emailID int64) bool {
	key := dedupKey(handler, emailID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.Int64("email_id", emailID),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped email claimed by another worker",
			zap.String("handler", handler),
			zap.Int64("email_id", emailID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release 释放处理权，失败的邮件可以被下一轮立即重新声明
func (d *Deduper) Release(ctx context.Context, handler string, emailID int64) {
	if err := d.rdb.Del(ctx, dedupKey(handler, emailID)).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("handler", handler),
			zap.Int64("email_id", emailID),
			zap.Error(err),
		)
	}
}
