package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"articleforge-api/pkg/logger"
)

var cacheTracer = otel.Tracer("redis.cache")

// Cache JSON 读穿缓存
type Cache struct {
	client *Client
	prefix string
	group  singleflight.Group
}

// NewCache 创建缓存服务，所有键自动加上 prefix
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get 读取并反序列化到 dest；未命中返回 false
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, c.key(key)).Bytes()
	if IsNil(err) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return true, nil
}

// Set 写入缓存
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	b, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.rdb.Set(ctx, c.key(key), b, ttl).Err()
}

// Remember 读穿缓存，并发未命中通过 singleflight 合并为一次加载
//
// 缓存读写失败只记录日志，不影响 loader 的结果。
func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, dest any, loader func(ctx context.Context) (any, error)) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Remember",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	hit, err := c.Get(ctx, key, dest)
	if err != nil {
		logger.Warn(ctx, "cache read failed", "key", key, "error", err.Error())
	}
	if hit {
		return nil
	}

	raw, err, shared := c.group.Do(key, func() (any, error) {
		data, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		if err := c.client.rdb.Set(ctx, c.key(key), b, ttl).Err(); err != nil {
			logger.Warn(ctx, "cache write failed", "key", key, "error", err.Error())
		}
		return b, nil
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		span.RecordError(err)
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Delete 删除缓存
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.rdb.Del(ctx, full...).Err()
}
