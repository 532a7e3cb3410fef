package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id               UUID PRIMARY KEY,
		mac_address      TEXT NOT NULL UNIQUE,
		device_name      TEXT NOT NULL,
		device_type      TEXT NOT NULL,
		location         TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'offline',
		firmware_version TEXT NOT NULL DEFAULT '',
		last_seen        TIMESTAMPTZ,
		is_test_device   BOOLEAN NOT NULL DEFAULT false,
		owner_user_id    TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_owner ON devices (owner_user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_status_seen ON devices (status, last_seen)`,
	`CREATE TABLE IF NOT EXISTS control_commands (
		id            UUID PRIMARY KEY,
		device_id     UUID NOT NULL REFERENCES devices (id),
		owner_user_id TEXT NOT NULL,
		action        TEXT NOT NULL,
		parameters    JSONB NOT NULL DEFAULT '{}',
		status        TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		sent_at       TIMESTAMPTZ,
		delivered_at  TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		response      JSONB,
		superseded_by UUID,
		expired_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_device_status ON control_commands (device_id, status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_owner ON control_commands (owner_user_id, created_at DESC)`,
}

// Migrate creates the tables the hub needs. It is safe to run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
