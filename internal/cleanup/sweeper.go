// Package cleanup periodically evicts tasks that outlived their retention.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"vidflow/internal/metrics"
)

const (
	DefaultSchedule  = "@every 1h"
	DefaultRetention = 24 * time.Hour
)

type Evictor interface {
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type Sweeper struct {
	store     Evictor
	cron      *cron.Cron
	schedule  string
	retention time.Duration
	clock     clockwork.Clock
	log       zerolog.Logger
}

func NewSweeper(store Evictor, schedule string, retention time.Duration, clock clockwork.Clock, log zerolog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	return &Sweeper{
		store:     store,
		cron:      cron.New(),
		schedule:  schedule,
		retention: retention,
		clock:     clock,
		log:       log,
	}, nil
}

// Start registers the sweep on the cron schedule and starts the scheduler.
// Sweeps run until Stop or until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Dur("retention", s.retention).Msg("cleanup scheduler started")
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep evicts every task created before now minus the retention window and
// returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.store.EvictOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Time("cutoff", cutoff).Msg("task cleanup failed")
		return n
	}
	metrics.RecordEvicted(n)
	if n > 0 {
		s.log.Info().Int("evicted", n).Time("cutoff", cutoff).Msg("expired tasks evicted")
	}
	return n
}

// ValidateSchedule checks a cron expression or descriptor such as "@every 1h".
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", expr, err)
	}
	return nil
}
