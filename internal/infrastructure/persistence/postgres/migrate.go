// Package postgres 提供 PostgreSQL 数据库访问层实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"articleforge-api/internal/domain/entity"
)

const migrateLockID int64 = 20410731

// Migrate 在 advisory lock 保护下执行 AutoMigrate，多实例同时启动时只有一个执行
func (c *Client) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()

	if err := c.db.WithContext(ctx).AutoMigrate(
		&entity.Profile{},
		&entity.CreditTransaction{},
		&entity.Article{},
		&entity.CMSConnection{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
