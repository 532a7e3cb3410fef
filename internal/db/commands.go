package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gardenhub/internal/commands"
	"gardenhub/internal/models"

	"github.com/jackc/pgx/v5"
)

var _ commands.Store = (*DB)(nil)

const commandColumns = `id::text, device_id::text, owner_user_id, action, parameters::text, status,
	created_at, sent_at, delivered_at, completed_at, response::text, superseded_by::text, expired_at`

func scanCommand(row pgx.Row) (*models.Command, error) {
	var (
		c        models.Command
		params   string
		status   string
		response *string
	)
	err := row.Scan(&c.ID, &c.DeviceID, &c.OwnerUserID, &c.Action, &params, &status,
		&c.CreatedAt, &c.SentAt, &c.DeliveredAt, &c.CompletedAt, &response, &c.SupersededBy, &c.ExpiredAt)
	if isNoRows(err) {
		return nil, commands.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Parameters = json.RawMessage(params)
	c.Status = models.CommandStatus(status)
	if response != nil {
		c.Response = json.RawMessage(*response)
	}
	return &c, nil
}

// InsertUnlessRecent inserts cmd unless an outstanding command for the same
// device and action was created at or after since. An advisory lock on the
// pair serializes concurrent submissions.
func (d *DB) InsertUnlessRecent(ctx context.Context, cmd *models.Command, since time.Time) (*models.Command, bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "enqueue:"+cmd.DeviceID+":"+cmd.Action); err != nil {
		return nil, false, fmt.Errorf("lock: %w", err)
	}

	existing, err := scanCommand(tx.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM control_commands
		 WHERE device_id = $1::uuid AND action = $2 AND status IN ($3, $4) AND created_at >= $5
		 ORDER BY created_at DESC LIMIT 1`,
		cmd.DeviceID, cmd.Action, string(models.StatusPending), string(models.StatusSent), since))
	if err == nil {
		return existing, false, tx.Commit(ctx)
	}
	if !errors.Is(err, commands.ErrNotFound) {
		return nil, false, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO control_commands (id, device_id, owner_user_id, action, parameters, status, created_at, sent_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5::jsonb, $6, $7, $8)`,
		cmd.ID, cmd.DeviceID, cmd.OwnerUserID, cmd.Action, string(cmd.Parameters), string(cmd.Status),
		cmd.CreatedAt, cmd.SentAt)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return cmd, true, nil
}

// ClaimNewest delivers the newest outstanding command of a device and
// supersedes the older ones in one statement. Claims for the same device are
// serialized so a second poller sees the first one's result.
func (d *DB) ClaimNewest(ctx context.Context, deviceID string, at time.Time) (*models.Command, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "claim:"+deviceID); err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	claimed, err := scanCommand(tx.QueryRow(ctx,
		`WITH claimed AS (
			UPDATE control_commands SET status = $2, delivered_at = $3
			WHERE id = (
				SELECT id FROM control_commands
				WHERE device_id = $1::uuid AND status IN ($4, $5)
				ORDER BY created_at DESC LIMIT 1
				FOR UPDATE
			)
			RETURNING *
		), superseded AS (
			UPDATE control_commands c SET status = $6, superseded_by = claimed.id
			FROM claimed
			WHERE c.device_id = claimed.device_id
			  AND c.id <> claimed.id
			  AND c.status IN ($4, $5)
			  AND c.created_at <= claimed.created_at
		)
		SELECT `+commandColumns+` FROM claimed`,
		deviceID, string(models.StatusDelivered), at, string(models.StatusPending), string(models.StatusSent), string(models.StatusSuperseded)))
	if errors.Is(err, commands.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// ListCommands fetches a user's commands, newest first
func (d *DB) ListCommands(ctx context.Context, ownerUserID, deviceID string, limit int) ([]models.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM control_commands WHERE owner_user_id = $1`
	args := []any{ownerUserID}
	if deviceID != "" {
		query += ` AND device_id = $2::uuid`
		args = append(args, deviceID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Command{}
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCommand fetches a command by id
func (d *DB) GetCommand(ctx context.Context, id string) (*models.Command, error) {
	return scanCommand(d.pool.QueryRow(ctx, `SELECT `+commandColumns+` FROM control_commands WHERE id = $1::uuid`, id))
}

// ExpireCommand retires a command that is still outstanding
func (d *DB) ExpireCommand(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := d.pool.Exec(ctx,
		`UPDATE control_commands SET status = $1, expired_at = $2
		 WHERE id = $3::uuid AND status IN ($4, $5)`,
		string(models.StatusExpired), at, id, string(models.StatusPending), string(models.StatusSent))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
