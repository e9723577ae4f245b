package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailhub/backend/migrations"
)

// Migrate 执行内嵌的 PostgreSQL 建表脚本（幂等）
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	schema, err := migrations.Load("postgres", migrations.Up)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
