package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// RateLimiter 滑动窗口限流器
type RateLimiter struct {
	client *Client
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Decision 限流判定结果
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter 被拒绝时距离窗口内最早一次请求过期的时间
	RetryAfter time.Duration
}

// Allow 检查是否允许请求（滑动窗口算法）
//
// 清理、写入与计数在同一个 MULTI 中执行；超限时撤回本次写入。
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
		attribute.Int64("ratelimit.window_ms", window.Milliseconds()),
	)
	defer span.End()

	now := time.Now().UnixMilli()
	windowStart := now - window.Milliseconds()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	var countCmd *redis.IntCmd
	var oldestCmd *redis.ZSliceCmd
	_, err := l.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
		countCmd = pipe.ZCard(ctx, key)
		oldestCmd = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Decision{}, err
	}

	count := int(countCmd.Val())
	span.SetAttributes(attribute.Int("ratelimit.current_count", count))
	if count <= limit {
		span.SetAttributes(attribute.Bool("ratelimit.allowed", true))
		return Decision{Allowed: true, Remaining: limit - count}, nil
	}

	if err := l.client.rdb.ZRem(ctx, key, member).Err(); err != nil {
		span.RecordError(err)
	}

	retry := window
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		retry = time.Duration(int64(oldest[0].Score)+window.Milliseconds()-now) * time.Millisecond
		if retry < 0 {
			retry = 0
		}
	}
	span.SetAttributes(attribute.Bool("ratelimit.allowed", false))
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Reset 重置限流计数
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "ratelimit.Reset")
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	return l.client.rdb.Del(ctx, key).Err()
}

// BuildUserRateLimitKey 构建用户限流键
func BuildUserRateLimitKey(userID, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", userID, endpoint)
}
