package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate. The
// fingerprint columns are created with the configured embedding dimension,
// so the dimension cannot change without a manual migration.
func runMigrations(db *gorm.DB, embeddingDims int) error {
	if embeddingDims <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", embeddingDims)
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},

		// Migration 002: issue groups
		{
			ID: "002_issue_groups",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS issue_groups (
						id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
						title VARCHAR(200) NOT NULL,
						description VARCHAR(1000),
						fingerprint vector(%d) NOT NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
					)`, embeddingDims)).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("issue_groups")
			},
		},

		// Migration 003: conversations with single nullable group FK.
		// Membership is a single foreign key, not a join table: a
		// conversation belongs to at most one group.
		{
			ID: "003_conversations",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS conversations (
						id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
						slug TEXT NOT NULL UNIQUE,
						subject TEXT,
						status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
						merged_into_id BIGINT REFERENCES conversations(id),
						issue_group_id BIGINT REFERENCES issue_groups(id),
						fingerprint vector(%d),
						fingerprint_text TEXT,
						created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
					)`, embeddingDims),
					`CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status)`,
					`CREATE INDEX IF NOT EXISTS idx_conversations_issue_group ON conversations(issue_group_id)`,
					// Partial index backing the batch selection query.
					`CREATE INDEX IF NOT EXISTS idx_conversations_unclustered ON conversations(id)
						WHERE status = 'open' AND merged_into_id IS NULL
						AND fingerprint IS NOT NULL AND issue_group_id IS NULL`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("conversations")
			},
		},

		// Migration 004: conversation messages
		{
			ID: "004_conversation_messages",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE TABLE IF NOT EXISTS conversation_messages (
						id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
						conversation_id BIGINT NOT NULL REFERENCES conversations(id),
						role TEXT NOT NULL CHECK (role IN ('user', 'agent')),
						body TEXT NOT NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT now()
					)`,
					`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("conversation_messages")
			},
		},
	})

	return m.Migrate()
}
