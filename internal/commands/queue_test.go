package commands_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gardenhub/internal/commands"
	"gardenhub/internal/models"
	"gardenhub/internal/store/memory"

	"github.com/rs/zerolog"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu      sync.Mutex
	queued  []string
	expires []string
	err     error
}

func (r *recorder) CommandQueued(_ context.Context, cmd *models.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, cmd.ID)
	return r.err
}

func (r *recorder) ScheduleExpiry(_ context.Context, id string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires = append(r.expires, id)
	return r.err
}

func newQueue(opts commands.Options) (*commands.Queue, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = c.now
	return commands.NewQueue(memory.New(), opts, zerolog.Nop()), c
}

const dev = "0b6f8a52-0000-4000-8000-000000000001"

func TestEnqueueDeduplicatesWithinWindow(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(commands.Options{})

	first, dedup, err := q.Enqueue(ctx, dev, commands.ActionWater, json.RawMessage(`{"duration":30}`), "u1")
	if err != nil || dedup {
		t.Fatalf("first enqueue: %v dedup=%v", err, dedup)
	}
	if first.Status != models.StatusSent || first.SentAt == nil || !first.SentAt.Equal(first.CreatedAt) {
		t.Errorf("new command = %+v", first)
	}

	c.advance(999 * time.Millisecond)
	second, dedup, err := q.Enqueue(ctx, dev, commands.ActionWater, json.RawMessage(`{"duration":60}`), "u1")
	if err != nil || !dedup || second.ID != first.ID {
		t.Fatalf("second enqueue: id=%s dedup=%v err=%v", second.ID, dedup, err)
	}
	if string(second.Parameters) != `{"duration":30}` {
		t.Errorf("deduplicated command should echo stored parameters, got %s", second.Parameters)
	}

	other, dedup, err := q.Enqueue(ctx, dev, commands.ActionLightOff, nil, "u1")
	if err != nil || dedup || other.ID == first.ID {
		t.Fatalf("different action collapsed: dedup=%v err=%v", dedup, err)
	}

	c.advance(1100 * time.Millisecond)
	third, dedup, err := q.Enqueue(ctx, dev, commands.ActionWater, nil, "u1")
	if err != nil || dedup || third.ID == first.ID {
		t.Fatalf("enqueue after window: dedup=%v err=%v", dedup, err)
	}
}

func TestEnqueueSkipsDeliveredForDedup(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(commands.Options{})

	first, _, _ := q.Enqueue(ctx, dev, commands.ActionLaserOn, nil, "u1")
	if _, err := q.ClaimNext(ctx, dev); err != nil {
		t.Fatal(err)
	}
	c.advance(100 * time.Millisecond)
	second, dedup, err := q.Enqueue(ctx, dev, commands.ActionLaserOn, nil, "u1")
	if err != nil || dedup || second.ID == first.ID {
		t.Fatalf("delivered command reused: dedup=%v err=%v", dedup, err)
	}
}

func TestEnqueueRejectsInvalid(t *testing.T) {
	q, _ := newQueue(commands.Options{})
	ctx := context.Background()
	if _, _, err := q.Enqueue(ctx, dev, "dance", nil, "u1"); !errors.Is(err, commands.ErrUnsupportedAction) {
		t.Errorf("unknown action err = %v", err)
	}
	if _, _, err := q.Enqueue(ctx, dev, commands.ActionWater, json.RawMessage(`{"duration":0}`), "u1"); !errors.Is(err, commands.ErrInvalidParameters) {
		t.Errorf("bad duration err = %v", err)
	}
}

func TestClaimNextDeliversNewestAndSupersedes(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(commands.Options{})

	older, _, _ := q.Enqueue(ctx, dev, commands.ActionLightOn, nil, "u1")
	c.advance(2 * time.Second)
	newer, _, _ := q.Enqueue(ctx, dev, commands.ActionLightOff, nil, "u1")
	c.advance(time.Second)

	claimed, err := q.ClaimNext(ctx, dev)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != newer.ID {
		t.Fatalf("claimed %v, want %s", claimed, newer.ID)
	}
	if claimed.Status != models.StatusDelivered || claimed.DeliveredAt == nil || !claimed.DeliveredAt.Equal(c.now()) {
		t.Errorf("claimed command = %+v", claimed)
	}

	got, err := q.Get(ctx, older.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSuperseded || got.SupersededBy == nil || *got.SupersededBy != newer.ID {
		t.Errorf("older command = %+v", got)
	}

	again, err := q.ClaimNext(ctx, dev)
	if err != nil || again != nil {
		t.Fatalf("second claim = %v, %v", again, err)
	}
}

func TestConcurrentClaimsNeverShareACommand(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(commands.Options{})
	cmd, _, _ := q.Enqueue(ctx, dev, commands.ActionGetStatus, nil, "u1")

	const pollers = 16
	var wg sync.WaitGroup
	results := make(chan *models.Command, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := q.ClaimNext(ctx, dev)
			if err != nil {
				t.Error(err)
				return
			}
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)

	delivered := 0
	for r := range results {
		if r != nil {
			delivered++
			if r.ID != cmd.ID {
				t.Errorf("unexpected command %s", r.ID)
			}
		}
	}
	if delivered != 1 {
		t.Fatalf("command delivered %d times", delivered)
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(commands.Options{})
	other := "0b6f8a52-0000-4000-8000-000000000002"

	var ids []string
	for _, a := range []commands.Action{commands.ActionWater, commands.ActionLightOn, commands.ActionLaserOff} {
		cmd, _, _ := q.Enqueue(ctx, dev, a, nil, "u1")
		ids = append(ids, cmd.ID)
		c.advance(time.Second)
	}
	q.Enqueue(ctx, other, commands.ActionWater, nil, "u1")
	q.Enqueue(ctx, dev, commands.ActionWater, nil, "someone-else")

	list, err := q.History(ctx, "u1", dev, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Fatalf("history order wrong: %+v", list)
	}

	all, _ := q.History(ctx, "u1", "", 0)
	if len(all) != 4 {
		t.Errorf("user history = %d commands, want 4", len(all))
	}

	limited, _ := q.History(ctx, "u1", dev, 2)
	if len(limited) != 2 || limited[0].ID != ids[2] {
		t.Errorf("limited history = %+v", limited)
	}
}

func TestNotifierAndExpiry(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{err: errors.New("broker down")}
	q, _ := newQueue(commands.Options{Notifier: rec, Expiry: rec, CommandTTL: time.Minute})

	cmd, _, err := q.Enqueue(ctx, dev, commands.ActionWater, nil, "u1")
	if err != nil {
		t.Fatalf("notifier failure must not fail enqueue: %v", err)
	}
	if _, _, err := q.Enqueue(ctx, dev, commands.ActionWater, nil, "u1"); err != nil {
		t.Fatal(err)
	}
	if len(rec.queued) != 1 || rec.queued[0] != cmd.ID {
		t.Errorf("notified %v, want only %s", rec.queued, cmd.ID)
	}
	if len(rec.expires) != 1 || rec.expires[0] != cmd.ID {
		t.Errorf("expiry scheduled for %v", rec.expires)
	}
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	q, c := newQueue(commands.Options{})

	stale, _, _ := q.Enqueue(ctx, dev, commands.ActionWater, nil, "u1")
	expired, err := q.Expire(ctx, stale.ID)
	if err != nil || !expired {
		t.Fatalf("Expire = %v, %v", expired, err)
	}
	got, _ := q.Get(ctx, stale.ID)
	if got.Status != models.StatusExpired || got.ExpiredAt == nil {
		t.Errorf("expired command = %+v", got)
	}
	if claimed, _ := q.ClaimNext(ctx, dev); claimed != nil {
		t.Errorf("expired command was claimed")
	}

	c.advance(2 * time.Second)
	live, _, _ := q.Enqueue(ctx, dev, commands.ActionWater, nil, "u1")
	if _, err := q.ClaimNext(ctx, dev); err != nil {
		t.Fatal(err)
	}
	if expired, _ := q.Expire(ctx, live.ID); expired {
		t.Error("delivered command expired")
	}
	got, _ = q.Get(ctx, live.ID)
	if got.Status != models.StatusDelivered {
		t.Errorf("delivered command status = %s", got.Status)
	}

	if expired, err := q.Expire(ctx, "missing"); expired || err != nil {
		t.Errorf("Expire(missing) = %v, %v", expired, err)
	}
	if _, err := q.Get(ctx, "missing"); !errors.Is(err, commands.ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}
