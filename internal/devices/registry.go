package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gardenhub/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound          = errors.New("device not found")
	ErrInvalidID         = errors.New("invalid device id format")
	ErrInvalidMAC        = errors.New("invalid MAC address")
	ErrAlreadyRegistered = errors.New("device with this MAC address already registered")
	ErrInvalidInput      = errors.New("invalid device registration")
)

// Store is the persistence contract for devices. Implementations return
// ErrNotFound for missing rows and ErrAlreadyRegistered on a MAC collision.
type Store interface {
	GetDeviceByID(ctx context.Context, id string) (*models.Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*models.Device, error)
	InsertDevice(ctx context.Context, d *models.Device) error
	ListDevicesByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error)
	TouchDevice(ctx context.Context, id string, at time.Time) error
	MarkDevicesOffline(ctx context.Context, seenBefore time.Time) (int64, error)
}

// Registry resolves devices by id or MAC and keeps their liveness current
type Registry struct {
	store Store
	lg    zerolog.Logger
	now   func() time.Time
}

// NewRegistry creates a registry over store
func NewRegistry(store Store, lg zerolog.Logger) *Registry {
	return &Registry{
		store: store,
		lg:    lg.With().Str("component", "registry").Logger(),
		now:   time.Now,
	}
}

// RegisterInput is the payload of an explicit registration
type RegisterInput struct {
	DeviceName string
	MACAddress string
	DeviceType string
	Location   string
}

// FindByID looks a device up by its opaque id
func (r *Registry) FindByID(ctx context.Context, id string) (*models.Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return r.store.GetDeviceByID(ctx, id)
}

// FindByMAC tries the raw uppercase spelling, then the bare hex form, then the
// colon-separated form. Firmware versions disagree on which one they send.
func (r *Registry) FindByMAC(ctx context.Context, mac string) (*models.Device, error) {
	for _, candidate := range macCandidates(mac) {
		d, err := r.store.GetDeviceByMAC(ctx, candidate)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// RegisterOrGet returns the device known under mac, auto-registering a test
// device when none exists and the MAC passes the sanity checks.
func (r *Registry) RegisterOrGet(ctx context.Context, mac string) (*models.Device, bool, error) {
	d, err := r.FindByMAC(ctx, mac)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	normalized := NormalizeMAC(mac)
	if !validForAutoRegistration(normalized) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	now := r.now().UTC()
	d = &models.Device{
		ID:              uuid.NewString(),
		MACAddress:      normalized,
		DeviceName:      "ESP32-" + normalized[:6],
		DeviceType:      "esp32",
		Location:        "Garden",
		Status:          models.DeviceOnline,
		FirmwareVersion: "unknown",
		LastSeen:        &now,
		IsTestDevice:    true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.InsertDevice(ctx, d); err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			// a concurrent request registered it first
			existing, ferr := r.FindByMAC(ctx, normalized)
			return existing, false, ferr
		}
		return nil, false, err
	}
	r.lg.Info().Str("device_id", d.ID).Str("mac", normalized).Msg("auto-registered device")
	return d, true, nil
}

// Register creates a device owned by ownerUserID
func (r *Registry) Register(ctx context.Context, ownerUserID string, in RegisterInput) (*models.Device, error) {
	in.DeviceName = strings.TrimSpace(in.DeviceName)
	in.DeviceType = strings.TrimSpace(in.DeviceType)
	if in.DeviceName == "" || in.MACAddress == "" || in.DeviceType == "" {
		return nil, fmt.Errorf("%w: device name, MAC address, and device type are required", ErrInvalidInput)
	}
	if !validForRegistration(in.MACAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, in.MACAddress)
	}
	if _, err := r.FindByMAC(ctx, in.MACAddress); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	location := strings.TrimSpace(in.Location)
	if location == "" {
		location = "Garden"
	}
	owner := ownerUserID
	now := r.now().UTC()
	d := &models.Device{
		ID:              uuid.NewString(),
		MACAddress:      NormalizeMAC(in.MACAddress),
		DeviceName:      in.DeviceName,
		DeviceType:      in.DeviceType,
		Location:        location,
		Status:          models.DeviceOffline,
		FirmwareVersion: "1.0.0",
		OwnerUserID:     &owner,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.InsertDevice(ctx, d); err != nil {
		return nil, err
	}
	r.lg.Info().Str("device_id", d.ID).Str("owner", ownerUserID).Msg("registered device")
	return d, nil
}

// ListByOwner returns the devices owned by a user
func (r *Registry) ListByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error) {
	return r.store.ListDevicesByOwner(ctx, ownerUserID)
}

// Touch marks the device online and seen now
func (r *Registry) Touch(ctx context.Context, d *models.Device) error {
	now := r.now().UTC()
	if err := r.store.TouchDevice(ctx, d.ID, now); err != nil {
		return err
	}
	d.Status = models.DeviceOnline
	d.LastSeen = &now
	return nil
}

// MarkOffline flips online devices not seen within threshold to offline
func (r *Registry) MarkOffline(ctx context.Context, threshold time.Duration) (int64, error) {
	n, err := r.store.MarkDevicesOffline(ctx, r.now().UTC().Add(-threshold))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.lg.Info().Int64("count", n).Msg("marked devices offline")
	}
	return n, nil
}
