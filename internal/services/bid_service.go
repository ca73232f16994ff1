package services

import (
	"context"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"

	"github.com/cockroachdb/errors"
)

// BidService admits bids. All submissions for one auction are serialised
// by the auction lease and a row lock; different auctions never contend.
type BidService struct {
	uow      domain.UnitOfWork
	locker   domain.Locker
	rules    domain.BiddingRule
	notifier domain.ChangePublisher
	clock    clock.Clock
	timeouts LockTimeouts
	log      logger.Logger
}

func NewBidService(uow domain.UnitOfWork, locker domain.Locker, rules domain.BiddingRule,
	notifier domain.ChangePublisher, clk clock.Clock, timeouts LockTimeouts, log logger.Logger) *BidService {
	return &BidService{
		uow:      uow,
		locker:   locker,
		rules:    rules,
		notifier: notifier,
		clock:    clk,
		timeouts: timeouts,
		log:      log,
	}
}

func (s *BidService) SubmitBid(ctx context.Context, auctionID, bidderID string, price int64) (*domain.Bid, error) {
	if price <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidPrice, "price %d", price)
	}

	var (
		bid     *domain.Bid
		events  []*domain.ChangeEvent
		entered bool
	)

	// A second submission from the same bidder while one is in flight is
	// rejected outright instead of queueing behind the auction lease.
	err := s.locker.WithLock(ctx, domain.SubmissionLockName(auctionID, bidderID), 0, s.timeouts.Lease,
		func(ctx context.Context) error {
			entered = true
			return s.locker.WithLock(ctx, domain.AuctionLockName(auctionID), s.timeouts.Wait, s.timeouts.Lease,
				func(ctx context.Context) error {
					return s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
						var err error
						bid, events, err = s.admit(ctx, tx, auctionID, bidderID, price)
						return err
					})
				})
		})

	if err != nil {
		switch {
		case !entered && errors.Is(err, domain.ErrLockUnavailable):
			return nil, errors.Wrapf(domain.ErrDuplicateSubmission, "bidder %s on auction %s", bidderID, auctionID)
		case errors.Is(err, domain.ErrLockUnavailable):
			s.log.Warn("Bid contended", "auction_id", auctionID, "bidder_id", bidderID)
			return nil, domain.Contended(err, "auction "+auctionID)
		case domain.Classify(err) == domain.KindPersistence:
			s.log.Error("Failed to submit bid", "auction_id", auctionID, "bidder_id", bidderID, "error", err)
		}
		return nil, err
	}

	s.notifier.Publish(events)

	s.log.Info("Bid accepted", "auction_id", auctionID, "bid_id", bid.ID,
		"bidder_id", bidderID, "price", price)
	return bid, nil
}

func (s *BidService) admit(ctx context.Context, tx domain.Tx, auctionID, bidderID string,
	price int64) (*domain.Bid, []*domain.ChangeEvent, error) {
	auction, err := tx.Auctions().GetForUpdate(ctx, auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return nil, nil, errors.Wrapf(domain.ErrAuctionNotOpen, "auction %s does not exist", auctionID)
		}
		return nil, nil, err
	}

	now := s.clock.Now()
	if !auction.AcceptsBidsAt(now) {
		return nil, nil, errors.Wrapf(domain.ErrAuctionNotOpen, "auction %s is %s", auctionID, auction.Status)
	}
	if auction.SellerID == bidderID {
		return nil, nil, errors.Wrapf(domain.ErrSelfBidForbidden, "bidder %s", bidderID)
	}
	if minimum := s.rules.MinimumNext(auction.CurrentPrice); price < minimum {
		return nil, nil, errors.Wrapf(domain.ErrBidTooLow, "price %d, minimum %d", price, minimum)
	}

	tracker := domain.TrackAuction(auction)

	seen, err := tx.Bids().HasBidFrom(ctx, auctionID, bidderID)
	if err != nil {
		return nil, nil, err
	}
	if !seen {
		auction.BidderCount++
	}

	bid := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Price:     price,
		Status:    domain.BidActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Bids().Create(ctx, bid); err != nil {
		return nil, nil, err
	}

	auction.CurrentPrice = price
	auction.UpdatedAt = now
	if err := tx.Auctions().Update(ctx, auction); err != nil {
		return nil, nil, err
	}

	events := tracker.Changes(auction, now, newEventID)
	if err := tx.Outbox().Append(ctx, events); err != nil {
		return nil, nil, err
	}
	return bid, events, nil
}

func (s *BidService) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	return s.uow.Reader().Bids().Get(ctx, bidID)
}

// ListBids is a lock-free read and may be slightly stale.
func (s *BidService) ListBids(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.uow.Reader().Bids().ListByAuction(ctx, auctionID, limit)
}

// MyBid pairs a bid with the state of its auction at read time.
type MyBid struct {
	Bid           *domain.Bid
	CurrentPrice  int64
	AuctionStatus domain.AuctionStatus
	IsWinning     bool
}

// ListMyBids pages through a bidder's bids, newest first; page counts from 1.
// Like ListBids it takes no locks, so IsWinning may already be stale.
func (s *BidService) ListMyBids(ctx context.Context, bidderID string, page, size int) ([]*MyBid, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	reader := s.uow.Reader()
	bids, err := reader.Bids().ListByBidder(ctx, bidderID, (page-1)*size, size)
	if err != nil {
		return nil, err
	}

	auctions := make(map[string]*domain.Auction)
	out := make([]*MyBid, 0, len(bids))
	for _, b := range bids {
		a, ok := auctions[b.AuctionID]
		if !ok {
			if a, err = reader.Auctions().Get(ctx, b.AuctionID); err != nil {
				return nil, errors.Wrapf(err, "auction for bid %s", b.ID)
			}
			auctions[b.AuctionID] = a
		}
		out = append(out, &MyBid{
			Bid:           b,
			CurrentPrice:  a.CurrentPrice,
			AuctionStatus: a.Status,
			IsWinning:     b.Price == a.CurrentPrice,
		})
	}
	return out, nil
}
