package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema history in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					user_id TEXT UNIQUE,
					stripe_customer_id TEXT UNIQUE,
					stripe_subscription_id TEXT,
					stripe_price_id TEXT,
					status TEXT NOT NULL DEFAULT 'none',
					current_period_start TIMESTAMPTZ,
					current_period_end TIMESTAMPTZ,
					quota_limit INTEGER NOT NULL DEFAULT 0,
					quota_used INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (quota_used >= 0),
					CHECK (quota_limit >= 0)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create projects table",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					user_id TEXT NOT NULL,
					input_image_url TEXT,
					output_image_url TEXT,
					prompt TEXT NOT NULL,
					model TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'completed',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_projects_user_id_created_at ON projects(user_id, created_at DESC);
			`,
		},
	}
}

// RunMigrations applies every pending migration, each in its own
// transaction, and returns the versions it applied.
func RunMigrations(ctx context.Context, db *sql.DB) ([]int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []int
	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return ran, fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return ran, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		ran = append(ran, migration.Version)
	}

	return ran, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
