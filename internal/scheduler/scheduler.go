package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// OfflineMarker is implemented by devices.Registry
type OfflineMarker interface {
	MarkOffline(ctx context.Context, threshold time.Duration) (int64, error)
}

// Scheduler runs the periodic housekeeping jobs
type Scheduler struct {
	cron *cron.Cron
	lg   zerolog.Logger
}

// NewScheduler creates a stopped scheduler
func NewScheduler(lg zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		lg:   lg.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.lg.Info().Int("jobs", len(s.cron.Entries())).Msg("cron scheduler started")
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.lg.Info().Msg("cron scheduler stopped")
}

// AddJob adds a cron job and returns the entry ID
func (s *Scheduler) AddJob(spec string, fn func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, fn)
}

// AddOfflineSweep marks devices silent for longer than threshold offline,
// every interval.
func (s *Scheduler) AddOfflineSweep(marker OfflineMarker, interval, threshold time.Duration) (cron.EntryID, error) {
	spec := fmt.Sprintf("@every %s", interval)
	return s.AddJob(spec, func() {
		SweepOffline(context.Background(), marker, threshold, s.lg)
	})
}

// SweepOffline runs one offline sweep
func SweepOffline(ctx context.Context, marker OfflineMarker, threshold time.Duration, lg zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	n, err := marker.MarkOffline(ctx, threshold)
	if err != nil {
		lg.Error().Err(err).Msg("offline sweep failed")
		return
	}
	lg.Debug().Int64("marked", n).Msg("offline sweep done")
}
