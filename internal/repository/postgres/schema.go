package postgres

import (
	"context"
	"fmt"

	"conversa/internal/domain/repositories"
)

// EnsureSchema creates the mirrored tables if they don't exist. Production
// reads a replica whose schema is owned elsewhere; this is for dev and test.
func EnsureSchema(ctx context.Context, db repositories.DBTX, tables *TableNames) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + tables.Users + ` (
			id TEXT NOT NULL,
			discussion_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (discussion_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tables.Posts + ` (
			id TEXT PRIMARY KEY,
			discussion_id TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'AssemblPost',
			parent_id TEXT REFERENCES ` + tables.Posts + `(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL,
			creator_id TEXT NOT NULL DEFAULT '',
			like_count INTEGER NOT NULL DEFAULT 0,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			sentiment_counts JSONB,
			tombstone BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS ` + tables.Posts + `_discussion_created_idx
			ON ` + tables.Posts + ` (discussion_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS ` + tables.Ideas + ` (
			id TEXT PRIMARY KEY,
			discussion_id TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'Idea',
			parent_id TEXT REFERENCES ` + tables.Ideas + `(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL,
			short_title TEXT NOT NULL DEFAULT '',
			definition TEXT NOT NULL DEFAULT '',
			"order" DOUBLE PRECISION NOT NULL DEFAULT 0,
			tombstone BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tables.Extracts + ` (
			id TEXT PRIMARY KEY,
			discussion_id TEXT NOT NULL,
			post_id TEXT NOT NULL REFERENCES ` + tables.Posts + `(id) ON DELETE CASCADE,
			idea_id TEXT REFERENCES ` + tables.Ideas + `(id) ON DELETE SET NULL,
			body TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// DropTables drops every mirrored table, dependents first
func DropTables(ctx context.Context, db repositories.DBTX, tables *TableNames) error {
	for _, table := range []string{tables.Extracts, tables.Ideas, tables.Posts, tables.Users} {
		if _, err := db.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
