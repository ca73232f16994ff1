package services

import (
	"context"
	"strings"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"

	"github.com/cockroachdb/errors"
)

type CreateAuctionInput struct {
	SellerID     string
	Title        string
	InitialPrice int64
	StartTime    time.Time
	EndTime      time.Time
}

func (in CreateAuctionInput) validate() error {
	switch {
	case strings.TrimSpace(in.SellerID) == "":
		return errors.Wrap(domain.ErrInvalidAuction, "seller is required")
	case strings.TrimSpace(in.Title) == "":
		return errors.Wrap(domain.ErrInvalidAuction, "title is required")
	case in.InitialPrice <= 0:
		return errors.Wrapf(domain.ErrInvalidAuction, "initial price must be positive, got %d", in.InitialPrice)
	case !in.EndTime.After(in.StartTime):
		return errors.Wrap(domain.ErrInvalidAuction, "end time must be after start time")
	}
	return nil
}

// AuctionManager owns auction creation and reads. State transitions after
// creation belong to BidService and LifecycleService.
type AuctionManager struct {
	uow     domain.UnitOfWork
	indexer domain.AuctionIndexer
	clock   clock.Clock
	log     logger.Logger
}

// NewAuctionManager accepts a nil indexer.
func NewAuctionManager(uow domain.UnitOfWork, indexer domain.AuctionIndexer, clk clock.Clock,
	log logger.Logger) *AuctionManager {
	return &AuctionManager{
		uow:     uow,
		indexer: indexer,
		clock:   clk,
		log:     log,
	}
}

func (am *AuctionManager) CreateAuction(ctx context.Context, in CreateAuctionInput) (*domain.Auction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := am.clock.Now()
	if !in.EndTime.After(now) {
		return nil, errors.Wrap(domain.ErrInvalidAuction, "end time is in the past")
	}

	status := domain.AuctionNotStarted
	if !in.StartTime.After(now) {
		status = domain.AuctionOpen
	}

	auction := &domain.Auction{
		ID:           utils.GenerateID("auction"),
		SellerID:     in.SellerID,
		Title:        strings.TrimSpace(in.Title),
		InitialPrice: in.InitialPrice,
		CurrentPrice: in.InitialPrice,
		Status:       status,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := am.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Auctions().Create(ctx, auction)
	})
	if err != nil {
		return nil, err
	}

	if am.indexer != nil {
		if err := am.indexer.Seed(ctx, auction); err != nil {
			// the projection catches up from the next change event
			am.log.Warn("Failed to seed auction projection", "auction_id", auction.ID, "error", err)
		}
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "status", auction.Status.String(),
		"end_time", auction.EndTime)
	return auction, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return am.uow.Reader().Auctions().Get(ctx, auctionID)
}
