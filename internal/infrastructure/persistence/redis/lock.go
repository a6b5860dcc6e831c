package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// ErrLockHeld 锁已被其他持有者占用
var ErrLockHeld = errors.New("lock is held by another owner")

// 仅当值与持有者 token 一致时才删除或续期
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker 基于 SET NX PX 的互斥锁
type Locker struct {
	client *Client
	prefix string
}

// NewLocker 创建锁管理器
func NewLocker(client *Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock 已获取的锁
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// Acquire 尝试获取锁，不等待；被占用时返回 ErrLockHeld
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + name
	ctx, span := tracer.Start(ctx, "lock.Acquire")
	span.SetAttributes(attribute.String("lock.key", key))
	defer span.End()

	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("lock.acquired", ok))
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token, ttl: ttl}, nil
}

// Refresh 续期；锁已丢失时返回 ErrLockHeld
func (k *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, k.client.rdb, []string{k.key}, k.token, k.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

// Release 释放锁；只删除自己持有的锁
func (k *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(context.WithoutCancel(ctx), k.client.rdb, []string{k.key}, k.token).Err()
}

// TTL 锁的有效期
func (k *Lock) TTL() time.Duration {
	return k.ttl
}
