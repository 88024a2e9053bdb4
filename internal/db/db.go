package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the chat mirror and marketplace tables if missing.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chats (
            id BIGSERIAL PRIMARY KEY,
            external_thread_id VARCHAR(100) UNIQUE NOT NULL,
            participant_1_type VARCHAR(10) NOT NULL CHECK (participant_1_type IN ('homeowner', 'tradie')),
            participant_1_id BIGINT NOT NULL,
            participant_2_type VARCHAR(10) NOT NULL CHECK (participant_2_type IN ('homeowner', 'tradie')),
            participant_2_id BIGINT NOT NULL,
            last_message TEXT,
            last_sender VARCHAR(32),
            last_message_at TIMESTAMPTZ,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE INDEX IF NOT EXISTS chats_last_message_at_idx ON chats (last_message_at)`,

		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            external_thread_id VARCHAR(100) NOT NULL,
            external_message_id VARCHAR(32) NOT NULL,
            seq BIGINT NOT NULL,
            sender_type VARCHAR(10) NOT NULL,
            sender_id BIGINT NOT NULL,
            receiver_type VARCHAR(10) NOT NULL,
            receiver_id BIGINT NOT NULL,
            message TEXT NOT NULL,
            reply_to JSONB,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            sent_at TIMESTAMPTZ NOT NULL,
            read_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (external_thread_id, external_message_id)
        )`,

		`CREATE INDEX IF NOT EXISTS messages_thread_sent_at_idx ON messages (external_thread_id, sent_at)`,

		`CREATE TABLE IF NOT EXISTS job_offers (
            id BIGSERIAL PRIMARY KEY,
            homeowner_id BIGINT NOT NULL,
            service_category_id BIGINT NOT NULL,
            title VARCHAR(255) NOT NULL,
            description TEXT,
            job_type VARCHAR(10) NOT NULL DEFAULT 'standard' CHECK (job_type IN ('standard', 'urgent', 'recurrent')),
            job_size VARCHAR(10) NOT NULL DEFAULT 'small' CHECK (job_size IN ('small', 'medium', 'large')),
            frequency VARCHAR(10),
            address VARCHAR(255) NOT NULL,
            status VARCHAR(12) NOT NULL DEFAULT 'open'
                CHECK (status IN ('pending', 'open', 'in_progress', 'completed', 'cancelled', 'expired')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS job_offer_photos (
            id BIGSERIAL PRIMARY KEY,
            job_offer_id BIGINT NOT NULL REFERENCES job_offers(id) ON DELETE CASCADE,
            file_path VARCHAR(512) NOT NULL,
            file_size INT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS job_applications (
            id BIGSERIAL PRIMARY KEY,
            job_offer_id BIGINT NOT NULL REFERENCES job_offers(id) ON DELETE CASCADE,
            tradie_id BIGINT NOT NULL,
            status VARCHAR(10) NOT NULL DEFAULT 'pending'
                CHECK (status IN ('pending', 'accepted', 'rejected', 'withdrawn')),
            cover_letter TEXT,
            proposed_price NUMERIC(10, 2),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (job_offer_id, tradie_id)
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS job_applications_one_accepted_idx
            ON job_applications (job_offer_id) WHERE status = 'accepted'`,
	}

	for _, query := range queries {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
