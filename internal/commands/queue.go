package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gardenhub/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrNotFound          = errors.New("command not found")
)

const (
	// DefaultDedupWindow collapses UI double-clicks into one command
	DefaultDedupWindow = time.Second

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Store is the persistence contract for commands
type Store interface {
	// InsertUnlessRecent atomically returns an outstanding command for the same
	// device and action created at or after since, or inserts cmd. The bool is
	// true when cmd was inserted.
	InsertUnlessRecent(ctx context.Context, cmd *models.Command, since time.Time) (*models.Command, bool, error)
	// ClaimNewest marks the newest outstanding command of a device delivered and
	// every older outstanding one superseded, in one atomic step. It returns nil
	// when nothing is outstanding.
	ClaimNewest(ctx context.Context, deviceID string, at time.Time) (*models.Command, error)
	ListCommands(ctx context.Context, ownerUserID, deviceID string, limit int) ([]models.Command, error)
	GetCommand(ctx context.Context, id string) (*models.Command, error)
	// ExpireCommand marks the command expired if it is still outstanding
	ExpireCommand(ctx context.Context, id string, at time.Time) (bool, error)
}

// Notifier is told about every newly queued command
type Notifier interface {
	CommandQueued(ctx context.Context, cmd *models.Command) error
}

// ExpiryScheduler arranges for Queue.Expire to run after a delay
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, commandID string, after time.Duration) error
}

// Options tune a Queue. Zero values select the defaults.
type Options struct {
	DedupWindow time.Duration
	CommandTTL  time.Duration
	Notifier    Notifier
	Expiry      ExpiryScheduler
	Now         func() time.Time
}

// Queue holds outstanding and historical commands per device
type Queue struct {
	store  Store
	window time.Duration
	ttl    time.Duration
	notify Notifier
	expiry ExpiryScheduler
	lg     zerolog.Logger
	now    func() time.Time
}

// NewQueue creates a queue over store
func NewQueue(store Store, opts Options, lg zerolog.Logger) *Queue {
	window := opts.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		store:  store,
		window: window,
		ttl:    opts.CommandTTL,
		notify: opts.Notifier,
		expiry: opts.Expiry,
		lg:     lg.With().Str("component", "queue").Logger(),
		now:    now,
	}
}

// Enqueue validates and stores a command. A matching command queued within the
// de-duplication window is returned instead of a new one, with dedup set.
func (q *Queue) Enqueue(ctx context.Context, deviceID string, action Action, raw json.RawMessage, ownerUserID string) (*models.Command, bool, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, false, err
	}
	params, err := ValidateParams(action, raw)
	if err != nil {
		return nil, false, err
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, false, fmt.Errorf("encode parameters: %w", err)
	}

	now := q.now().UTC()
	cmd := &models.Command{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		OwnerUserID: ownerUserID,
		Action:      string(action),
		Parameters:  encoded,
		Status:      models.StatusSent,
		CreatedAt:   now,
		SentAt:      &now,
	}
	stored, created, err := q.store.InsertUnlessRecent(ctx, cmd, now.Add(-q.window))
	if err != nil {
		return nil, false, fmt.Errorf("insert command: %w", err)
	}
	if !created {
		q.lg.Info().Str("command_id", stored.ID).Str("device_id", deviceID).Str("action", string(action)).
			Msg("duplicate submission collapsed")
		return stored, true, nil
	}

	q.lg.Info().Str("command_id", stored.ID).Str("device_id", deviceID).Str("action", string(action)).
		RawJSON("parameters", stored.Parameters).Msg("command queued")

	if q.notify != nil {
		if err := q.notify.CommandQueued(ctx, stored); err != nil {
			q.lg.Warn().Err(err).Str("command_id", stored.ID).Msg("command notification failed")
		}
	}
	if q.expiry != nil && q.ttl > 0 {
		if err := q.expiry.ScheduleExpiry(ctx, stored.ID, q.ttl); err != nil {
			q.lg.Warn().Err(err).Str("command_id", stored.ID).Msg("expiry scheduling failed")
		}
	}
	return stored, false, nil
}

// ClaimNext hands the newest outstanding command of a device to the device.
// Older outstanding commands are superseded, never delivered.
func (q *Queue) ClaimNext(ctx context.Context, deviceID string) (*models.Command, error) {
	cmd, err := q.store.ClaimNewest(ctx, deviceID, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim command: %w", err)
	}
	if cmd != nil {
		q.lg.Info().Str("command_id", cmd.ID).Str("device_id", deviceID).Str("action", cmd.Action).
			Msg("command delivered")
	}
	return cmd, nil
}

// History lists the commands of a user, optionally for one device, newest first
func (q *Queue) History(ctx context.Context, ownerUserID, deviceID string, limit int) ([]models.Command, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return q.store.ListCommands(ctx, ownerUserID, deviceID, limit)
}

// Get returns a command by id
func (q *Queue) Get(ctx context.Context, id string) (*models.Command, error) {
	return q.store.GetCommand(ctx, id)
}

// Expire retires a command that no device claimed in time
func (q *Queue) Expire(ctx context.Context, id string) (bool, error) {
	expired, err := q.store.ExpireCommand(ctx, id, q.now().UTC())
	if err != nil {
		return false, err
	}
	if expired {
		q.lg.Info().Str("command_id", id).Msg("command expired")
	}
	return expired, nil
}
