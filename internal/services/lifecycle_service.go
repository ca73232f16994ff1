package services

import (
	"context"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSold
	outcomeUnsold
	outcomeOpened
)

// LifecycleService drives auctions NOT_STARTED -> OPEN -> SETTLED_*. Each
// auction is processed under the same lease bid admission uses, and
// committed on its own.
type LifecycleService struct {
	uow      domain.UnitOfWork
	locker   domain.Locker
	notifier domain.ChangePublisher
	notices  domain.NoticePublisher
	clock    clock.Clock
	timeouts LockTimeouts
	batch    int
	log      logger.Logger
}

func NewLifecycleService(uow domain.UnitOfWork, locker domain.Locker, notifier domain.ChangePublisher,
	notices domain.NoticePublisher, clk clock.Clock, timeouts LockTimeouts, batch int,
	log logger.Logger) *LifecycleService {
	if batch <= 0 {
		batch = 500
	}
	return &LifecycleService{
		uow:      uow,
		locker:   locker,
		notifier: notifier,
		notices:  notices,
		clock:    clk,
		timeouts: timeouts,
		batch:    batch,
		log:      log,
	}
}

// CloseExpiredAuctions settles every OPEN auction whose end time is at or
// before now. Failures are logged and left OPEN for the next sweep.
func (s *LifecycleService) CloseExpiredAuctions(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult

	ids, err := s.uow.Reader().Auctions().FindExpiredOpen(ctx, now, s.batch)
	if err != nil {
		return result, errors.Wrap(err, "find expired auctions")
	}
	result.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		out, err := s.transition(ctx, id, func(ctx context.Context, tx domain.Tx, a *domain.Auction) (outcome, error) {
			return s.settle(ctx, tx, a, now)
		})
		s.tally(&result, out, err, "settle", id)
	}

	if result.Scanned > 0 {
		s.log.Info("Settlement sweep finished", "scanned", result.Scanned, "sold", result.Sold,
			"unsold", result.Unsold, "skipped", result.Skipped, "failed", result.Failed)
	}
	return result, nil
}

// OpenDueAuctions opens every NOT_STARTED auction whose start time has passed.
func (s *LifecycleService) OpenDueAuctions(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult

	ids, err := s.uow.Reader().Auctions().FindDueNotStarted(ctx, now, s.batch)
	if err != nil {
		return result, errors.Wrap(err, "find due auctions")
	}
	result.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		out, err := s.transition(ctx, id, func(ctx context.Context, tx domain.Tx, a *domain.Auction) (outcome, error) {
			if a.Status != domain.AuctionNotStarted || a.StartTime.After(now) {
				return outcomeSkipped, nil
			}
			a.Status = domain.AuctionOpen
			return outcomeOpened, nil
		})
		s.tally(&result, out, err, "open", id)
	}

	if result.Scanned > 0 {
		s.log.Info("Opening sweep finished", "scanned", result.Scanned, "opened", result.Opened,
			"skipped", result.Skipped, "failed", result.Failed)
	}
	return result, nil
}

// NotifyEndingSoon publishes a notice for auctions ending within the minute
// that starts lead from now.
func (s *LifecycleService) NotifyEndingSoon(ctx context.Context, now time.Time, lead time.Duration) (int, error) {
	from, to := domain.EndingSoonRange(now, lead)
	auctions, err := s.uow.Reader().Auctions().FindEndingBetween(ctx, from, to)
	if err != nil {
		return 0, errors.Wrap(err, "find auctions ending soon")
	}

	sent := 0
	for _, a := range auctions {
		notice := &domain.AuctionNotice{
			Type:      domain.NoticeEndingSoon,
			AuctionID: a.ID,
			EndTime:   a.EndTime,
			Timestamp: now,
		}
		if err := s.notices.PublishNotice(ctx, notice); err != nil {
			s.log.Error("Failed to publish ending-soon notice", "auction_id", a.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *LifecycleService) settle(ctx context.Context, tx domain.Tx, a *domain.Auction, now time.Time) (outcome, error) {
	// re-check under the lock: another sweep or a late bid may have won the race
	if a.Status != domain.AuctionOpen || a.EndTime.After(now) {
		return outcomeSkipped, nil
	}

	top, err := tx.Bids().HighestByStatus(ctx, a.ID, domain.BidActive)
	switch {
	case err == nil:
		if err := tx.Bids().UpdateStatus(ctx, top.ID, domain.BidWon, now); err != nil {
			return outcomeSkipped, err
		}
		if _, err := tx.Bids().MarkActiveOutbid(ctx, a.ID, top.ID, now); err != nil {
			return outcomeSkipped, err
		}
		a.CurrentPrice = top.Price
		a.Status = domain.AuctionSettledSold
		return outcomeSold, nil
	case errors.Is(err, domain.ErrBidNotFound):
		a.Status = domain.AuctionSettledUnsold
		return outcomeUnsold, nil
	default:
		return outcomeSkipped, err
	}
}

type transitionFunc func(ctx context.Context, tx domain.Tx, a *domain.Auction) (outcome, error)

func (s *LifecycleService) transition(ctx context.Context, auctionID string, fn transitionFunc) (outcome, error) {
	var (
		out    outcome
		events []*domain.ChangeEvent
	)
	err := s.locker.WithLock(ctx, domain.AuctionLockName(auctionID), s.timeouts.Wait, s.timeouts.Lease,
		func(ctx context.Context) error {
			return s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
				a, err := tx.Auctions().GetForUpdate(ctx, auctionID)
				if err != nil {
					return err
				}
				before := a.Status
				tracker := domain.TrackAuction(a)

				out, err = fn(ctx, tx, a)
				if err != nil || out == outcomeSkipped {
					return err
				}
				if !before.CanTransitionTo(a.Status) {
					return errors.AssertionFailedf("illegal transition %s -> %s for %s", before, a.Status, auctionID)
				}

				now := s.clock.Now()
				a.UpdatedAt = now
				if err := tx.Auctions().Update(ctx, a); err != nil {
					return err
				}
				events = tracker.Changes(a, now, newEventID)
				return tx.Outbox().Append(ctx, events)
			})
		})
	if err != nil {
		return outcomeSkipped, err
	}
	s.notifier.Publish(events)
	return out, nil
}

func (s *LifecycleService) tally(result *domain.SweepResult, out outcome, err error, op, auctionID string) {
	if err != nil {
		result.Failed++
		s.log.Error("Failed to process auction", "op", op, "auction_id", auctionID, "error", err)
		return
	}
	switch out {
	case outcomeSold:
		result.Sold++
	case outcomeUnsold:
		result.Unsold++
	case outcomeOpened:
		result.Opened++
	default:
		result.Skipped++
	}
	if out != outcomeSkipped {
		s.log.Info("Auction transitioned", "op", op, "auction_id", auctionID)
	}
}
