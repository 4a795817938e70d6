package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func initSchema(ctx context.Context, db *sql.DB, driver string) error {
	candidateSeq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "pgx" {
		candidateSeq = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar_url TEXT,
			online INTEGER NOT NULL DEFAULT 0,
			last_seen_ms INTEGER,
			status TEXT NOT NULL DEFAULT 'available',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			device_info TEXT,
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_user ON auth_tokens(user_id);`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			contact_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			last_message TEXT NOT NULL DEFAULT '',
			last_message_at_ms INTEGER,
			unread INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			UNIQUE (user_id, contact_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_user_status ON contacts(user_id, status);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type TEXT NOT NULL DEFAULT 'text',
			text TEXT NOT NULL DEFAULT '',
			file_url TEXT,
			file_name TEXT,
			file_size INTEGER,
			file_mime TEXT,
			read INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			edited INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			emoji TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (message_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			caller_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			offer TEXT NOT NULL,
			answer TEXT,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_receiver_status ON calls(receiver_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_status ON calls(status);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS call_ice_candidates (
			seq %s,
			call_id TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			candidate TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`, candidateSeq),
		`CREATE INDEX IF NOT EXISTS idx_ice_candidates_call ON call_ice_candidates(call_id, seq);`,
		`CREATE TABLE IF NOT EXISTS typing_states (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			peer_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			typing INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (user_id, peer_id)
		);`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
