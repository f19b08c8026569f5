package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS meter_credentials (
	room_no          TEXT PRIMARY KEY,
	meter_id         TEXT NOT NULL,
	project_id       TEXT NOT NULL DEFAULT '',
	project_name     TEXT NOT NULL DEFAULT '',
	username         TEXT NOT NULL,
	password_hash    TEXT NOT NULL,
	token            TEXT,
	token_expires_at TIMESTAMPTZ,
	meter_data       JSONB,
	last_sync_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS power_readings (
	id                 UUID PRIMARY KEY,
	recorded_at        TIMESTAMPTZ NOT NULL,
	total_power        DOUBLE PRECISION NOT NULL,
	active_meter_count INTEGER NOT NULL,
	by_project         JSONB NOT NULL DEFAULT '[]',
	by_meter           JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS power_readings_recorded_at_idx ON power_readings (recorded_at);

CREATE TABLE IF NOT EXISTS transactions (
	id             UUID PRIMARY KEY,
	reference      TEXT NOT NULL UNIQUE,
	gateway        TEXT NOT NULL,
	room_no        TEXT NOT NULL,
	meter_id       TEXT NOT NULL,
	amount_kobo    BIGINT NOT NULL,
	customer_name  TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	customer_phone TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'pending',
	sale_id        TEXT,
	error_message  TEXT,
	processed_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_logs (
	id              UUID PRIMARY KEY,
	gateway         TEXT NOT NULL,
	reference       TEXT NOT NULL DEFAULT '',
	event           TEXT NOT NULL DEFAULT '',
	signature_valid BOOLEAN NOT NULL,
	payload         BYTEA,
	error           TEXT,
	received_at     TIMESTAMPTZ NOT NULL
);
`

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
