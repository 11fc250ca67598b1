package db

import (
	"context"
	"fmt"
)

// ChangesChannel канал NOTIFY, в который триггеры пишут вставки
const ChangesChannel = "marketplace_changes"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email TEXT UNIQUE,
		password_hash TEXT,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		avatar_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS telegram_users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		telegram_id BIGINT NOT NULL UNIQUE,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		photo_url TEXT,
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		language_code TEXT,
		raw_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		login_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		logout_time TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		seller_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
		image_url TEXT,
		status TEXT NOT NULL DEFAULT 'available',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		search_vector TSVECTOR GENERATED ALWAYS AS (
			to_tsvector('simple'::regconfig, coalesce(title, '') || ' ' || coalesce(description, ''))
		) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS items_search_vector_idx ON items USING GIN (search_vector)`,
	`CREATE INDEX IF NOT EXISTS items_status_created_idx ON items (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		receiver_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		item_id UUID NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		content TEXT NOT NULL CHECK (length(btrim(content)) > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_sender_idx ON messages (sender_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS messages_receiver_idx ON messages (receiver_id, created_at DESC)`,
	`CREATE OR REPLACE FUNCTION notify_row_insert() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + ChangesChannel + `',
			json_build_object('table', TG_TABLE_NAME, 'type', TG_OP, 'id', NEW.id::text)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS messages_notify_insert ON messages`,
	`CREATE TRIGGER messages_notify_insert AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION notify_row_insert()`,
	`DROP TRIGGER IF EXISTS items_notify_insert ON items`,
	`CREATE TRIGGER items_notify_insert AFTER INSERT ON items
		FOR EACH ROW EXECUTE FUNCTION notify_row_insert()`,
}

// Migrate создаёт таблицы, индексы и триггеры, если их ещё нет
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка миграции %d: %w", i, err)
		}
	}
	return nil
}
