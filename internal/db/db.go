package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	// ChangeChannel is the Postgres NOTIFY channel carrying message row changes.
	ChangeChannel = "room_changes"
	// RoomListChannel carries room row changes and group membership changes.
	RoomListChannel = "room_list_changes"
)

// Connect initializes the database connection and runs migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.Int("statements", len(migrations)))
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
            user_id UUID PRIMARY KEY,
            display_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS groups (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL,
            owner_id UUID NOT NULL,
            invitation_token TEXT NOT NULL UNIQUE,
            invitation_enabled BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS group_members (
            group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
            user_id UUID NOT NULL,
            role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(group_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_rooms (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            type TEXT NOT NULL CHECK (type IN ('group', 'direct')),
            name TEXT,
            group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
            user_low UUID,
            user_high UUID,
            created_by UUID NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK ((type = 'direct') = (user_low IS NOT NULL AND user_high IS NOT NULL))
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_rooms_group_key ON chat_rooms (group_id) WHERE type = 'group';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS chat_rooms_direct_key ON chat_rooms (group_id, user_low, user_high) WHERE type = 'direct';`,
	`CREATE TABLE IF NOT EXISTS chat_room_members (
            room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
            user_id UUID NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(room_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL,
            content TEXT NOT NULL CHECK (btrim(content) <> ''),
            message_type TEXT NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'image', 'file')),
            client_ref UUID,
            edited_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_room_created ON messages (room_id, created_at DESC, id DESC);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_client_ref ON messages (room_id, sender_id, client_ref) WHERE client_ref IS NOT NULL;`,
	`CREATE OR REPLACE FUNCTION notify_room_change() RETURNS trigger AS $$
        DECLARE
            rec messages;
        BEGIN
            IF TG_OP = 'DELETE' THEN
                rec := OLD;
            ELSE
                rec := NEW;
            END IF;
            PERFORM pg_notify('` + ChangeChannel + `', json_build_object(
                'op', TG_OP,
                'room_id', rec.room_id,
                'id', rec.id
            )::text);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE OR DELETE ON messages
        FOR EACH ROW EXECUTE FUNCTION notify_room_change();`,
	`CREATE OR REPLACE FUNCTION notify_room_list_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + RoomListChannel + `', json_build_object(
                'op', TG_OP,
                'room_id', NEW.id
            )::text);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS chat_rooms_notify ON chat_rooms;`,
	`CREATE TRIGGER chat_rooms_notify AFTER INSERT OR UPDATE ON chat_rooms
        FOR EACH ROW EXECUTE FUNCTION notify_room_list_change();`,
	`CREATE OR REPLACE FUNCTION notify_membership_change() RETURNS trigger AS $$
        DECLARE
            rec group_members;
        BEGIN
            IF TG_OP = 'DELETE' THEN
                rec := OLD;
            ELSE
                rec := NEW;
            END IF;
            PERFORM pg_notify('` + RoomListChannel + `', json_build_object(
                'op', TG_OP,
                'user_id', rec.user_id
            )::text);
            RETURN NULL;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS group_members_notify ON group_members;`,
	`CREATE TRIGGER group_members_notify AFTER INSERT OR DELETE ON group_members
        FOR EACH ROW EXECUTE FUNCTION notify_membership_change();`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
