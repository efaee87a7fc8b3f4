package util

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestDeduperFailsOpenWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	d := NewDeduper(rdb, time.Minute, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !d.AcquireOnce(ctx, "agent", 42) {
		t.Fatal("expected AcquireOnce to allow processing when redis is unreachable")
	}
	if !d.AcquireOnce(ctx, "agent", 42) {
		t.Fatal("expected repeated AcquireOnce to allow processing when redis is unreachable")
	}
	d.Release(ctx, "agent", 42)
}

func TestDedupKey(t *testing.T) {
	if got := dedupKey("agent", 7); got != "dedup:agent:7" {
		t.Fatalf("dedupKey = %q", got)
	}
}
