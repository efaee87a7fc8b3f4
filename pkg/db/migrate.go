package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// EmbeddingDimensions emails.embedding 列的维度，与 schema.sql 中的 vector(1536) 一致
const EmbeddingDimensions = 1536

// Schema 返回内置的建表/加列语句
func Schema() string {
	return schemaSQL
}

// Migrate 执行 schema.sql；所有语句都是幂等的，可重复执行
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	logger.Info("Applying database schema")

	// 无参数的多语句 Exec 走 simple protocol，一次提交
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("Database schema is up to date")
	return nil
}
