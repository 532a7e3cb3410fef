// Package memory keeps devices and commands in process memory. It backs the
// hub when no DB_URL is configured and serves as the fake in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gardenhub/internal/commands"
	"gardenhub/internal/devices"
	"gardenhub/internal/models"
)

// Store implements devices.Store and commands.Store
type Store struct {
	mu       sync.Mutex
	devices  map[string]*models.Device
	commands map[string]*models.Command
}

var (
	_ devices.Store  = (*Store)(nil)
	_ commands.Store = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		devices:  make(map[string]*models.Device),
		commands: make(map[string]*models.Command),
	}
}

func copyDevice(d *models.Device) *models.Device {
	c := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		c.LastSeen = &t
	}
	if d.OwnerUserID != nil {
		o := *d.OwnerUserID
		c.OwnerUserID = &o
	}
	return &c
}

func copyCommand(cmd *models.Command) *models.Command {
	c := *cmd
	c.Parameters = append([]byte(nil), cmd.Parameters...)
	if cmd.Response != nil {
		c.Response = append([]byte(nil), cmd.Response...)
	}
	for _, p := range []**time.Time{&c.SentAt, &c.DeliveredAt, &c.CompletedAt, &c.ExpiredAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	if cmd.SupersededBy != nil {
		s := *cmd.SupersededBy
		c.SupersededBy = &s
	}
	return &c
}

// GetDeviceByID implements devices.Store
func (s *Store) GetDeviceByID(_ context.Context, id string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, devices.ErrNotFound
	}
	return copyDevice(d), nil
}

// GetDeviceByMAC implements devices.Store. The match is exact; spelling
// variants are the registry's job.
func (s *Store) GetDeviceByMAC(_ context.Context, mac string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.MACAddress == mac {
			return copyDevice(d), nil
		}
	}
	return nil, devices.ErrNotFound
}

// InsertDevice implements devices.Store
func (s *Store) InsertDevice(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.MACAddress != "" {
		for _, existing := range s.devices {
			if existing.MACAddress == d.MACAddress {
				return devices.ErrAlreadyRegistered
			}
		}
	}
	s.devices[d.ID] = copyDevice(d)
	return nil
}

// ListDevicesByOwner implements devices.Store
func (s *Store) ListDevicesByOwner(_ context.Context, ownerUserID string) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Device{}
	for _, d := range s.devices {
		if d.OwnedBy(ownerUserID) {
			out = append(out, *copyDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// TouchDevice implements devices.Store
func (s *Store) TouchDevice(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return devices.ErrNotFound
	}
	d.Status = models.DeviceOnline
	d.LastSeen = &at
	d.UpdatedAt = at
	return nil
}

// MarkDevicesOffline implements devices.Store
func (s *Store) MarkDevicesOffline(_ context.Context, seenBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.devices {
		if d.Status == models.DeviceOnline && (d.LastSeen == nil || d.LastSeen.Before(seenBefore)) {
			d.Status = models.DeviceOffline
			n++
		}
	}
	return n, nil
}

// InsertUnlessRecent implements commands.Store
func (s *Store) InsertUnlessRecent(_ context.Context, cmd *models.Command, since time.Time) (*models.Command, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recent *models.Command
	for _, c := range s.commands {
		if c.DeviceID != cmd.DeviceID || c.Action != cmd.Action || !c.Status.Outstanding() {
			continue
		}
		if c.CreatedAt.Before(since) {
			continue
		}
		if recent == nil || c.CreatedAt.After(recent.CreatedAt) {
			recent = c
		}
	}
	if recent != nil {
		return copyCommand(recent), false, nil
	}
	s.commands[cmd.ID] = copyCommand(cmd)
	return copyCommand(cmd), true, nil
}

// ClaimNewest implements commands.Store
func (s *Store) ClaimNewest(_ context.Context, deviceID string, at time.Time) (*models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var outstanding []*models.Command
	for _, c := range s.commands {
		if c.DeviceID == deviceID && c.Status.Outstanding() {
			outstanding = append(outstanding, c)
		}
	}
	if len(outstanding) == 0 {
		return nil, nil
	}
	sort.Slice(outstanding, func(i, j int) bool { return outstanding[i].CreatedAt.After(outstanding[j].CreatedAt) })

	claimed := outstanding[0]
	claimed.Status = models.StatusDelivered
	claimed.DeliveredAt = &at
	for _, older := range outstanding[1:] {
		id := claimed.ID
		older.Status = models.StatusSuperseded
		older.SupersededBy = &id
	}
	return copyCommand(claimed), nil
}

// ListCommands implements commands.Store
func (s *Store) ListCommands(_ context.Context, ownerUserID, deviceID string, limit int) ([]models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Command{}
	for _, c := range s.commands {
		if c.OwnerUserID != ownerUserID {
			continue
		}
		if deviceID != "" && c.DeviceID != deviceID {
			continue
		}
		out = append(out, *copyCommand(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetCommand implements commands.Store
func (s *Store) GetCommand(_ context.Context, id string) (*models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[id]
	if !ok {
		return nil, commands.ErrNotFound
	}
	return copyCommand(c), nil
}

// ExpireCommand implements commands.Store
func (s *Store) ExpireCommand(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[id]
	if !ok || !c.Status.Outstanding() {
		return false, nil
	}
	c.Status = models.StatusExpired
	c.ExpiredAt = &at
	return true, nil
}
