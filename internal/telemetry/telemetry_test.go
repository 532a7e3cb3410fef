package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr
}

func TestLaserState(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"bool true", State{"laserState": true}, "on"},
		{"string off", State{"laserState": "OFF"}, "off"},
		{"legacy field", State{"laser": "on"}, "on"},
		{"numeric", State{"laser": float64(0)}, "off"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "dev-" + tt.name
			if err := s.Save(ctx, key, tt.state); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := s.LaserState(ctx, key, "")
			if err != nil {
				t.Fatalf("LaserState: %v", err)
			}
			if got == nil || *got != tt.want {
				t.Fatalf("LaserState = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestLaserStateFallsBackToMAC(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.Save(ctx, "AABBCCDDEEFF", State{"laserState": "on"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.LaserState(ctx, "0b6f8a52-0000-4000-8000-000000000001", "AABBCCDDEEFF")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != "on" {
		t.Fatalf("LaserState = %v, want on", got)
	}

	none, err := s.LaserState(ctx, "unknown", "")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Fatalf("expected nil laser state, got %q", *none)
	}
}

func TestSaveMergesAndExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if err := s.Save(ctx, "d1", State{"laserState": "on", "moisture": float64(40)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "d1", State{"moisture": float64(55)}); err != nil {
		t.Fatal(err)
	}
	st, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if st["laserState"] != "on" || st["moisture"] != float64(55) {
		t.Errorf("merged state = %v", st)
	}
	if ttl := mr.TTL("device:d1"); ttl != StateTTL {
		t.Errorf("TTL = %s, want %s", ttl, StateTTL)
	}

	mr.FastForward(StateTTL + time.Second)
	if st, _ := s.Get(ctx, "d1"); st != nil {
		t.Errorf("state should expire, got %v", st)
	}
}

func TestSaveKeepsStateWhenReadFails(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if err := s.Save(ctx, "d1", State{"laserState": "on"}); err != nil {
		t.Fatal(err)
	}
	mr.SetError("LOADING Redis is loading the dataset in memory")
	if err := s.Save(ctx, "d1", State{"moisture": float64(12)}); err == nil {
		t.Fatal("Save succeeded while Redis was failing")
	}
	mr.SetError("")

	st, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if st["laserState"] != "on" {
		t.Errorf("laserState lost after failed save: %v", st)
	}
}

func TestSaveReplacesCorruptEntry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	if err := mr.Set("device:d1", "not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "d1"); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("Get err = %v, want corrupt state", err)
	}
	if err := s.Save(ctx, "d1", State{"laser": true}); err != nil {
		t.Fatalf("Save over corrupt entry: %v", err)
	}
	got, err := s.LaserState(ctx, "d1", "")
	if err != nil || got == nil || *got != "on" {
		t.Fatalf("LaserState = %v, %v", got, err)
	}
}

func TestConcurrentSavesKeepEveryField(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Save(ctx, "d1", State{fmt.Sprintf("sensor%d", i): float64(i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	st, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < writers; i++ {
		if _, ok := st[fmt.Sprintf("sensor%d", i)]; !ok {
			t.Errorf("sensor%d missing from merged state %v", i, st)
		}
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestIngestorSavesReports(t *testing.T) {
	s, _ := newTestStore(t)
	in := NewIngestor(nil, s, zerolog.Nop())

	in.onMessage(nil, fakeMessage{topic: "devices/aa:bb:cc:dd:ee:ff/state", payload: []byte(`{"laser":true}`)})
	in.onMessage(nil, fakeMessage{topic: "devices/x/state", payload: []byte(`not json`)})

	got, err := s.LaserState(context.Background(), "", "AABBCCDDEEFF")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != "on" {
		t.Fatalf("LaserState = %v, want on", got)
	}
}

func TestReportKey(t *testing.T) {
	tests := map[string]string{
		"devices/aa-bb-cc-dd-ee-ff/state":                    "AABBCCDDEEFF",
		"devices/0b6f8a52-0000-4000-8000-000000000001/state": "0b6f8a52-0000-4000-8000-000000000001",
		"devices//state":                                     "",
		"devices/abc/commands":                               "",
		"other/abc/state":                                    "",
	}
	for topic, want := range tests {
		if got := ReportKey(topic); got != want {
			t.Errorf("ReportKey(%q) = %q, want %q", topic, got, want)
		}
	}
}

