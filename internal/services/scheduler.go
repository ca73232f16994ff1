package services

import (
	"context"
	"sync"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// ScheduleSpecs are cron expressions; an empty spec disables that job.
type ScheduleSpecs struct {
	Settle           string
	Open             string
	EndingSoon       string
	Relay            string
	Dispatch         string
	EndingSoonWindow time.Duration
}

// CronAuctionScheduler runs the periodic jobs. Lifecycle sweeps only run on
// the leader; relay and dispatch guard themselves with their own leases.
type CronAuctionScheduler struct {
	cron       *cron.Cron
	specs      ScheduleSpecs
	lifecycle  *LifecycleService
	notifier   *ChangeNotifier
	dispatcher *NotificationDispatcher
	leader     domain.LeaderElection
	instanceID string
	clock      clock.Clock
	log        logger.Logger

	running sync.Mutex
}

var _ domain.AuctionScheduler = (*CronAuctionScheduler)(nil)

func NewCronAuctionScheduler(specs ScheduleSpecs, lifecycle *LifecycleService, notifier *ChangeNotifier,
	dispatcher *NotificationDispatcher, leader domain.LeaderElection, instanceID string,
	clk clock.Clock, log logger.Logger) *CronAuctionScheduler {
	return &CronAuctionScheduler{
		cron:       cron.New(cron.WithSeconds()),
		specs:      specs,
		lifecycle:  lifecycle,
		notifier:   notifier,
		dispatcher: dispatcher,
		leader:     leader,
		instanceID: instanceID,
		clock:      clk,
		log:        log,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "instance_id", s.instanceID)

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"settle", s.specs.Settle, s.leaderOnly("settle", s.SettleExpired)},
		{"open", s.specs.Open, s.leaderOnly("open", s.OpenDue)},
		{"ending_soon", s.specs.EndingSoon, s.leaderOnly("ending_soon", s.AnnounceEndingSoon)},
		{"relay", s.specs.Relay, s.RelayOutbox},
		{"dispatch", s.specs.Dispatch, s.DispatchNotifications},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() { run(ctx) }); err != nil {
			return errors.Wrapf(err, "schedule %s job with %q", job.name, job.spec)
		}
		s.log.Debug("Scheduled job", "job", job.name, "spec", job.spec)
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *CronAuctionScheduler) leaderOnly(name string, run func(ctx context.Context)) func(ctx context.Context) {
	return func(ctx context.Context) {
		isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
		if err != nil {
			s.log.Error("Leader check failed", "job", name, "error", err)
			return
		}
		if !isLeader {
			return
		}
		run(ctx)
	}
}

// SettleExpired is one settlement sweep. Overlapping ticks are skipped.
func (s *CronAuctionScheduler) SettleExpired(ctx context.Context) {
	if !s.running.TryLock() {
		s.log.Warn("Previous sweep still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	if _, err := s.lifecycle.CloseExpiredAuctions(ctx, s.clock.Now()); err != nil {
		s.log.Error("Settlement sweep failed", "error", err)
	}
}

func (s *CronAuctionScheduler) OpenDue(ctx context.Context) {
	if _, err := s.lifecycle.OpenDueAuctions(ctx, s.clock.Now()); err != nil {
		s.log.Error("Opening sweep failed", "error", err)
	}
}

func (s *CronAuctionScheduler) AnnounceEndingSoon(ctx context.Context) {
	sent, err := s.lifecycle.NotifyEndingSoon(ctx, s.clock.Now(), s.specs.EndingSoonWindow)
	if err != nil {
		s.log.Error("Ending-soon check failed", "error", err)
		return
	}
	if sent > 0 {
		s.log.Info("Ending-soon notices sent", "count", sent)
	}
}

// RelayOutbox is the safety net behind the notifier's own poll loop.
func (s *CronAuctionScheduler) RelayOutbox(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.RelayOnce(ctx); err != nil {
		s.log.Error("Scheduled outbox relay failed", "error", err)
	}
}

func (s *CronAuctionScheduler) DispatchNotifications(ctx context.Context) {
	if s.dispatcher == nil {
		return
	}
	sent, err := s.dispatcher.DispatchPending(ctx)
	if err != nil {
		s.log.Error("Notification dispatch failed", "error", err)
		return
	}
	if sent > 0 {
		s.log.Info("Notifications dispatched", "count", sent)
	}
}
