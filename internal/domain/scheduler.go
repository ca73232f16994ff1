package domain

import (
	"context"
	"time"
)

// Scheduler interface
type AuctionScheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// SweepResult summarises one lifecycle sweep.
type SweepResult struct {
	Scanned int
	Sold    int
	Unsold  int
	Opened  int
	Skipped int
	Failed  int
}

func (r SweepResult) Processed() int {
	return r.Sold + r.Unsold + r.Opened
}

// EndingSoonRange is the window an auction must end in to receive the notice.
func EndingSoonRange(now time.Time, lead time.Duration) (time.Time, time.Time) {
	from := now.Add(lead)
	return from, from.Add(time.Minute)
}
