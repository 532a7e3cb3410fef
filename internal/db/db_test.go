package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"gardenhub/internal/devices"
	"gardenhub/internal/models"

	"github.com/google/uuid"
)

// openTestDB connects to TEST_DATABASE_URL and starts from empty tables
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	d, err := NewDB(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(d.Close)
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := d.Pool().Exec(ctx, "TRUNCATE control_commands, devices"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return d
}

func insertDevice(t *testing.T, d *DB, mac string) *models.Device {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	dev := &models.Device{
		ID: uuid.NewString(), MACAddress: mac, DeviceName: "test", DeviceType: "esp32",
		Location: "Garden", Status: models.DeviceOnline, LastSeen: &now, CreatedAt: now, UpdatedAt: now,
	}
	if err := d.InsertDevice(context.Background(), dev); err != nil {
		t.Fatalf("insert device: %v", err)
	}
	return dev
}

func newCommand(deviceID, action string, at time.Time) *models.Command {
	return &models.Command{
		ID: uuid.NewString(), DeviceID: deviceID, OwnerUserID: "u1", Action: action,
		Parameters: json.RawMessage(`{}`), Status: models.StatusSent, CreatedAt: at, SentAt: &at,
	}
}

func TestDeviceStore(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	dev := insertDevice(t, d, "AABBCCDDEEFF")
	got, err := d.GetDeviceByMAC(ctx, "AABBCCDDEEFF")
	if err != nil || got.ID != dev.ID {
		t.Fatalf("GetDeviceByMAC = %v, %v", got, err)
	}
	if _, err := d.GetDeviceByID(ctx, uuid.NewString()); !errors.Is(err, devices.ErrNotFound) {
		t.Errorf("missing device err = %v", err)
	}
	dup := *dev
	dup.ID = uuid.NewString()
	if err := d.InsertDevice(ctx, &dup); !errors.Is(err, devices.ErrAlreadyRegistered) {
		t.Errorf("duplicate MAC err = %v", err)
	}

	n, err := d.MarkDevicesOffline(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("MarkDevicesOffline = %d, %v", n, err)
	}
	if err := d.TouchDevice(ctx, dev.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	got, _ = d.GetDeviceByID(ctx, dev.ID)
	if got.Status != models.DeviceOnline {
		t.Errorf("touched status = %s", got.Status)
	}
}

func TestCommandStoreDedupAndClaim(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	dev := insertDevice(t, d, "AABBCCDDEE01")
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	first, created, err := d.InsertUnlessRecent(ctx, newCommand(dev.ID, "water", t0), t0.Add(-time.Second))
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	t1 := t0.Add(200 * time.Millisecond)
	again, created, err := d.InsertUnlessRecent(ctx, newCommand(dev.ID, "water", t1), t1.Add(-time.Second))
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("dedup: created=%v id=%s err=%v", created, again.ID, err)
	}
	t2 := t0.Add(2 * time.Second)
	newer, _, err := d.InsertUnlessRecent(ctx, newCommand(dev.ID, "light_off", t2), t2.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := d.ClaimNewest(ctx, dev.ID, t2)
	if err != nil || claimed == nil || claimed.ID != newer.ID || claimed.Status != models.StatusDelivered {
		t.Fatalf("claim = %+v, %v", claimed, err)
	}
	old, err := d.GetCommand(ctx, first.ID)
	if err != nil || old.Status != models.StatusSuperseded || old.SupersededBy == nil || *old.SupersededBy != newer.ID {
		t.Fatalf("older command = %+v, %v", old, err)
	}
	if none, err := d.ClaimNewest(ctx, dev.ID, t2); none != nil || err != nil {
		t.Fatalf("second claim = %v, %v", none, err)
	}

	list, err := d.ListCommands(ctx, "u1", dev.ID, 10)
	if err != nil || len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("ListCommands = %v, %v", list, err)
	}
}

func TestConcurrentClaims(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	dev := insertDevice(t, d, "AABBCCDDEE02")
	now := time.Now().UTC()
	if _, _, err := d.InsertUnlessRecent(ctx, newCommand(dev.ID, "get_status", now), now.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := d.ClaimNewest(ctx, dev.ID, time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			if c != nil {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if delivered != 1 {
		t.Fatalf("delivered %d times", delivered)
	}
}

func TestExpireCommand(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	dev := insertDevice(t, d, "AABBCCDDEE03")
	now := time.Now().UTC()
	cmd, _, err := d.InsertUnlessRecent(ctx, newCommand(dev.ID, "water", now), now.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := d.ExpireCommand(ctx, cmd.ID, now); !ok || err != nil {
		t.Fatalf("ExpireCommand = %v, %v", ok, err)
	}
	if ok, err := d.ExpireCommand(ctx, cmd.ID, now); ok || err != nil {
		t.Fatalf("second ExpireCommand = %v, %v", ok, err)
	}
	if ok, err := d.ExpireCommand(ctx, uuid.NewString(), now); ok || err != nil {
		t.Fatalf("ExpireCommand(missing) = %v, %v", ok, err)
	}
}
