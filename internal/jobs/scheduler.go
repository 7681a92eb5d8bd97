// Package jobs runs the periodic housekeeping the request path only
// does lazily: expiring overdue sessions and holds, and refreshing the
// policy cache ahead of demand.
package jobs

import (
	"context"
	"time"

	"github.com/faredown/bargain-engine/internal/obs"
)

type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type PolicyRefresher interface {
	Refresh(ctx context.Context) error
}

type Scheduler struct {
	sessions Sweeper
	holds    Sweeper
	policies PolicyRefresher
	interval time.Duration
}

func NewScheduler(sessions, holds Sweeper, policies PolicyRefresher, interval time.Duration) *Scheduler {
	return &Scheduler{
		sessions: sessions,
		holds:    holds,
		policies: policies,
		interval: interval,
	}
}

// Run blocks until ctx is canceled, ticking at the configured interval.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	obs.Logger.Info("scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			obs.Logger.Info("scheduler stopped")
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	tick, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.sessions != nil {
		if n, err := s.sessions.SweepExpired(tick); err != nil {
			obs.Logger.Error("session sweep failed", "error", err.Error())
		} else if n > 0 {
			obs.Logger.Info("sessions expired", "count", n)
		}
	}
	if s.holds != nil {
		if n, err := s.holds.SweepExpired(tick); err != nil {
			obs.Logger.Error("hold sweep failed", "error", err.Error())
		} else if n > 0 {
			obs.Logger.Info("holds expired", "count", n)
		}
	}
	if s.policies != nil {
		if err := s.policies.Refresh(tick); err != nil {
			obs.Logger.Warn("policy refresh failed, serving cached set", "error", err.Error())
		}
	}
}
