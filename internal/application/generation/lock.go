package generation

import (
	"context"
	"errors"
	"time"

	redisinfra "articleforge-api/internal/infrastructure/persistence/redis"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
)

// RunLock 跨副本的会话运行锁
type RunLock interface {
	// Acquire 获取锁，返回释放函数；已被占用时返回 AlreadyGenerating
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisRunLock 基于 Redis SET NX PX 的运行锁，持有期间按 ttl/3 续期
type RedisRunLock struct {
	locker *redisinfra.Locker
	ttl    time.Duration
}

// NewRedisRunLock 创建运行锁
func NewRedisRunLock(locker *redisinfra.Locker, ttl time.Duration) *RedisRunLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRunLock{locker: locker, ttl: ttl}
}

func (l *RedisRunLock) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.locker.Acquire(ctx, key, l.ttl)
	if err != nil {
		if errors.Is(err, redisinfra.ErrLockHeld) {
			return nil, apperrors.ErrAlreadyGenerating
		}
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "failed to acquire generation lock")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.WithoutCancel(ctx)); err != nil {
					logger.Warn(ctx, "generation lock refresh failed", "key", key, "error", err)
					return
				}
			}
		}
	}()

	release := func() {
		close(stop)
		<-done
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "generation lock release failed", "key", key, "error", err)
		}
	}
	return release, nil
}

func runLockKey(userID, sessionID string) string {
	return "generation:" + userID + ":" + sessionID
}
