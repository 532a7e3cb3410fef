package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingMarker struct {
	mu        sync.Mutex
	calls     int
	threshold time.Duration
	err       error
}

func (m *countingMarker) MarkOffline(_ context.Context, threshold time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.threshold = threshold
	return 1, m.err
}

func (m *countingMarker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestSweepOffline(t *testing.T) {
	m := &countingMarker{}
	SweepOffline(context.Background(), m, 2*time.Minute, zerolog.Nop())
	if m.calls != 1 || m.threshold != 2*time.Minute {
		t.Fatalf("calls=%d threshold=%s", m.calls, m.threshold)
	}

	m.err = errors.New("db down")
	SweepOffline(context.Background(), m, time.Minute, zerolog.Nop())
	if m.calls != 2 {
		t.Fatalf("calls=%d", m.calls)
	}
}

func TestAddOfflineSweepRuns(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	m := &countingMarker{}
	if _, err := s.AddOfflineSweep(m, time.Second, time.Minute); err != nil {
		t.Fatalf("AddOfflineSweep: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for m.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if m.count() == 0 {
		t.Fatal("offline sweep never ran")
	}
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	if _, err := s.AddJob("every now and then", func() {}); err == nil {
		t.Fatal("expected parse error")
	}
}
