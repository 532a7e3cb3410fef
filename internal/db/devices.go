package db

import (
	"context"
	"time"

	"gardenhub/internal/devices"
	"gardenhub/internal/models"

	"github.com/jackc/pgx/v5"
)

var _ devices.Store = (*DB)(nil)

const deviceColumns = `id::text, mac_address, device_name, device_type, location, status,
	firmware_version, last_seen, is_test_device, owner_user_id, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(&d.ID, &d.MACAddress, &d.DeviceName, &d.DeviceType, &d.Location, &d.Status,
		&d.FirmwareVersion, &d.LastSeen, &d.IsTestDevice, &d.OwnerUserID, &d.CreatedAt, &d.UpdatedAt)
	if isNoRows(err) {
		return nil, devices.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeviceByID fetches a device by ID
func (d *DB) GetDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	return scanDevice(d.pool.QueryRow(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = $1::uuid", id))
}

// GetDeviceByMAC fetches a device by its stored MAC spelling
func (d *DB) GetDeviceByMAC(ctx context.Context, mac string) (*models.Device, error) {
	return scanDevice(d.pool.QueryRow(ctx, "SELECT "+deviceColumns+" FROM devices WHERE mac_address = $1", mac))
}

// InsertDevice creates a device row
func (d *DB) InsertDevice(ctx context.Context, dev *models.Device) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO devices (id, mac_address, device_name, device_type, location, status,
			firmware_version, last_seen, is_test_device, owner_user_id, created_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		dev.ID, dev.MACAddress, dev.DeviceName, dev.DeviceType, dev.Location, dev.Status,
		dev.FirmwareVersion, dev.LastSeen, dev.IsTestDevice, dev.OwnerUserID, dev.CreatedAt, dev.UpdatedAt)
	if isUniqueViolation(err) {
		return devices.ErrAlreadyRegistered
	}
	return err
}

// ListDevicesByOwner fetches the devices a user owns
func (d *DB) ListDevicesByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE owner_user_id = $1 ORDER BY created_at", ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Device{}
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dev)
	}
	return out, rows.Err()
}

// TouchDevice marks a device online and seen at the given time
func (d *DB) TouchDevice(ctx context.Context, id string, at time.Time) error {
	tag, err := d.pool.Exec(ctx,
		"UPDATE devices SET status = $1, last_seen = $2, updated_at = $2 WHERE id = $3::uuid",
		models.DeviceOnline, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return devices.ErrNotFound
	}
	return nil
}

// MarkDevicesOffline flips online devices last seen before the cutoff
func (d *DB) MarkDevicesOffline(ctx context.Context, seenBefore time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx,
		`UPDATE devices SET status = $1, updated_at = now()
		 WHERE status = $2 AND (last_seen IS NULL OR last_seen < $3)`,
		models.DeviceOffline, models.DeviceOnline, seenBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
