package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mailassist/pkg/config"
)

// NewRedisClient 创建 Redis 客户端；连接是惰性的，调用方用 Ping 检查可用性
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Ping 检查 Redis 是否可用
func Ping(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
