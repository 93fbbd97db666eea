// Package migrate 按版本顺序应用 Postgres schema，已应用的版本记录在 schema_version。
package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"alertreminder/pkg/db"
)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate 返回本次应用的版本数
func Migrate(ctx context.Context, pool db.Beginner, logger *zap.Logger) (int, error) {
	if _, err := pool.Exec(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.WithTx(ctx, pool, func(ctx context.Context) error {
			conn := db.Conn(ctx, pool)
			if _, err := conn.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := conn.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		logger.Info("Applied migration", zap.Int("version", m.version))
		applied++
	}
	return applied, nil
}

// Latest 当前代码期望的 schema 版本
func Latest() int {
	return migrations[len(migrations)-1].version
}
