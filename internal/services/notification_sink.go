package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
)

// NotificationSink turns price and status changes into queued user
// notifications. Job IDs derive from the event ID, kind and recipient, so
// redelivery of an event is a no-op.
type NotificationSink struct {
	uow   domain.UnitOfWork
	queue domain.NotificationQueue
	clock clock.Clock
	log   logger.Logger
}

func NewNotificationSink(uow domain.UnitOfWork, queue domain.NotificationQueue, clk clock.Clock,
	log logger.Logger) *NotificationSink {
	return &NotificationSink{uow: uow, queue: queue, clock: clk, log: log}
}

func (s *NotificationSink) Name() string {
	return "notification-queue"
}

func (s *NotificationSink) Consume(ctx context.Context, event *domain.ChangeEvent) error {
	switch event.Field {
	case domain.FieldStatus:
		return s.onStatus(ctx, event)
	case domain.FieldPrice:
		return s.onPrice(ctx, event)
	default:
		return nil
	}
}

// onPrice tells the seller, the bidder now on top and whoever they displaced.
// Accepted prices strictly increase, so each price names one bid.
func (s *NotificationSink) onPrice(ctx context.Context, event *domain.ChangeEvent) error {
	newPrice, err := strconv.ParseInt(event.NewValue, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "new price in event %s", event.ID)
	}
	oldPrice, err := strconv.ParseInt(event.OldValue, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "old price in event %s", event.ID)
	}

	reader := s.uow.Reader()
	auction, err := reader.Auctions().Get(ctx, event.AuctionID)
	if err != nil {
		return err
	}
	if err := s.enqueue(ctx, event, auction.SellerID, domain.NotifyNewHighBid,
		fmt.Sprintf("New high bid of %d on %q", newPrice, auction.Title)); err != nil {
		return err
	}

	top, err := reader.Bids().FindByPrice(ctx, event.AuctionID, newPrice)
	if err != nil {
		return err
	}
	if err := s.enqueue(ctx, event, top.BidderID, domain.NotifyBidSuccess,
		fmt.Sprintf("Your bid of %d on %q is the highest", newPrice, auction.Title)); err != nil {
		return err
	}

	previous, err := reader.Bids().FindByPrice(ctx, event.AuctionID, oldPrice)
	switch {
	case errors.Is(err, domain.ErrBidNotFound):
		// the old price was the opening price
		return nil
	case err != nil:
		return err
	case previous.BidderID == top.BidderID:
		return nil
	}
	return s.enqueue(ctx, event, previous.BidderID, domain.NotifyBidOutbid,
		fmt.Sprintf("Your bid of %d on %q was outbid at %d", oldPrice, auction.Title, newPrice))
}

func (s *NotificationSink) onStatus(ctx context.Context, event *domain.ChangeEvent) error {
	status, ok := domain.ParseStatus(event.NewValue)
	if !ok {
		return errors.Newf("unknown auction status %q in event %s", event.NewValue, event.ID)
	}

	switch status {
	case domain.AuctionOpen:
		auction, err := s.uow.Reader().Auctions().Get(ctx, event.AuctionID)
		if err != nil {
			return err
		}
		return s.enqueue(ctx, event, auction.SellerID, domain.NotifyAuctionStart,
			fmt.Sprintf("%q is open for bidding until %s", auction.Title, auction.EndTime.Format(time.RFC3339)))
	case domain.AuctionSettledSold:
		return s.onSold(ctx, event)
	case domain.AuctionSettledUnsold:
		auction, err := s.uow.Reader().Auctions().Get(ctx, event.AuctionID)
		if err != nil {
			return err
		}
		return s.enqueue(ctx, event, auction.SellerID, domain.NotifyAuctionUnsold,
			fmt.Sprintf("%q ended without bids", auction.Title))
	default:
		return nil
	}
}

// onSold notifies the winner and seller, then every other bidder through the
// OUTBID rows settlement left behind.
func (s *NotificationSink) onSold(ctx context.Context, event *domain.ChangeEvent) error {
	reader := s.uow.Reader()
	auction, err := reader.Auctions().Get(ctx, event.AuctionID)
	if err != nil {
		return err
	}
	winner, err := reader.Bids().HighestByStatus(ctx, event.AuctionID, domain.BidWon)
	if err != nil {
		return err
	}
	if err := s.enqueue(ctx, event, winner.BidderID, domain.NotifyAuctionWon,
		fmt.Sprintf("You won %q for %d", auction.Title, winner.Price)); err != nil {
		return err
	}
	if err := s.enqueue(ctx, event, auction.SellerID, domain.NotifyAuctionSold,
		fmt.Sprintf("%q sold for %d", auction.Title, winner.Price)); err != nil {
		return err
	}

	outbid, err := reader.Bids().ListByStatus(ctx, event.AuctionID, domain.BidOutbid)
	if err != nil {
		return err
	}
	best := make(map[string]int64)
	var losers []string
	for _, b := range outbid {
		if b.BidderID == winner.BidderID {
			continue
		}
		if _, seen := best[b.BidderID]; !seen {
			losers = append(losers, b.BidderID)
		}
		if b.Price > best[b.BidderID] {
			best[b.BidderID] = b.Price
		}
	}
	for _, loser := range losers {
		if err := s.enqueue(ctx, event, loser, domain.NotifyAuctionLost,
			fmt.Sprintf("%q sold for %d; your best bid was %d", auction.Title, winner.Price, best[loser])); err != nil {
			return err
		}
	}

	ended := fmt.Sprintf("Bidding on %q has ended at %d", auction.Title, winner.Price)
	for _, bidder := range append([]string{winner.BidderID}, losers...) {
		if err := s.enqueue(ctx, event, bidder, domain.NotifyAuctionEnd, ended); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotificationSink) enqueue(ctx context.Context, event *domain.ChangeEvent, recipient string,
	kind domain.NotificationKind, message string) error {
	now := s.clock.Now()
	job := &domain.NotificationJob{
		ID:          "job_" + event.ID + "_" + string(kind) + "_" + recipient,
		AuctionID:   event.AuctionID,
		RecipientID: recipient,
		Kind:        kind,
		Message:     message,
		Status:      domain.JobPending,
		RunAt:       now,
		CreatedAt:   now,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	s.log.Debug("Notification queued", "job_id", job.ID, "recipient", recipient, "kind", string(kind))
	return nil
}
