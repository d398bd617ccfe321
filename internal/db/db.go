package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"messaging-service/internal/logger"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, log *logger.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info("database migrations applied")
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		// The unique participant_key index is what guarantees at most one
		// thread per participant set under concurrent creation.
		`CREATE TABLE IF NOT EXISTS threads (
            id BIGSERIAL PRIMARY KEY,
            participant_key TEXT NOT NULL UNIQUE,
            participants BIGINT[] NOT NULL,
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            group_name TEXT,
            group_avatar TEXT,
            last_message_id BIGINT,
            last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		// Unread counters are mutated only through single-statement atomic
		// upserts; the CHECK backs up the GREATEST clamp in those statements.
		`CREATE TABLE IF NOT EXISTS thread_unread (
            thread_id BIGINT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            count INT NOT NULL DEFAULT 0 CHECK (count >= 0),
            PRIMARY KEY(thread_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            thread_id BIGINT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            recipient_id BIGINT,
            content TEXT NOT NULL,
            message_type TEXT NOT NULL DEFAULT 'text',
            attachment JSONB,
            reply_to BIGINT,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            read_at TIMESTAMPTZ,
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            deleted_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
        );`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            emoji TEXT NOT NULL,
            reacted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(message_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS threads_participants_idx ON threads USING GIN (participants);`,
		`CREATE INDEX IF NOT EXISTS messages_thread_created_idx ON messages (thread_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS messages_sender_created_idx ON messages (sender_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS messages_recipient_unread_idx ON messages (recipient_id)
            WHERE is_read = FALSE AND is_deleted = FALSE;`,
		`CREATE INDEX IF NOT EXISTS messages_content_tsv_idx ON messages USING GIN (content_tsv);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
