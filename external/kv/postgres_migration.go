package kv

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS kv_items (
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		attrs JSONB NOT NULL DEFAULT '{}'::jsonb,
		expires_at BIGINT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (pk, sk)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kv_items_expires_at ON kv_items (expires_at) WHERE expires_at IS NOT NULL`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
