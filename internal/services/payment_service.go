package services

import (
	"context"
	"strings"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
)

// PaymentService is the caller-side deduplication layer in front of the
// ledger: every external trigger carries a cause that is checked before
// money moves.
type PaymentService struct {
	uow      domain.UnitOfWork
	locker   domain.Locker
	ledger   *LedgerService
	timeouts LockTimeouts
	log      logger.Logger
}

func NewPaymentService(uow domain.UnitOfWork, locker domain.Locker, ledger *LedgerService,
	timeouts LockTimeouts, log logger.Logger) *PaymentService {
	return &PaymentService{
		uow:      uow,
		locker:   locker,
		ledger:   ledger,
		timeouts: timeouts,
		log:      log,
	}
}

// Deposit credits ownerID once per idempotency key. created is false when
// the key had already been applied.
func (s *PaymentService) Deposit(ctx context.Context, ownerID string, amount int64,
	idempotencyKey string) (entry *domain.LedgerEntry, created bool, err error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, false, domain.ErrIdempotencyKeyRequired
	}
	if amount <= 0 {
		return nil, false, errors.Wrapf(domain.ErrInvalidAmount, "deposit of %d", amount)
	}

	cause := domain.Cause{Type: domain.CausePayment, ID: idempotencyKey}
	err = s.once(ctx, domain.PaymentLockName(idempotencyKey), cause, func(ctx context.Context) error {
		entry, err = s.ledger.Credit(ctx, ownerID, amount, cause)
		created = err == nil
		return err
	}, &entry)
	if err != nil {
		return nil, false, err
	}
	return entry, created, nil
}

// PayForBid debits the winner of a settled auction for the winning price.
// Paying twice returns the first entry.
func (s *PaymentService) PayForBid(ctx context.Context, payerID, bidID string) (*domain.LedgerEntry, error) {
	cause := domain.Cause{Type: domain.CauseBidSettlement, ID: bidID}

	var entry *domain.LedgerEntry
	err := s.once(ctx, domain.SettlementLockName(bidID), cause, func(ctx context.Context) error {
		bid, err := s.payableBid(ctx, payerID, bidID)
		if err != nil {
			return err
		}
		entry, err = s.ledger.Debit(ctx, payerID, bid.Price, cause)
		return err
	}, &entry)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PaymentService) payableBid(ctx context.Context, payerID, bidID string) (*domain.Bid, error) {
	reader := s.uow.Reader()
	bid, err := reader.Bids().Get(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.BidderID != payerID {
		return nil, errors.Wrapf(domain.ErrBidNotPayable, "bid %s belongs to another bidder", bidID)
	}
	if bid.Status != domain.BidWon {
		return nil, errors.Wrapf(domain.ErrBidNotPayable, "bid %s is %s", bidID, bid.Status)
	}
	auction, err := reader.Auctions().Get(ctx, bid.AuctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status != domain.AuctionSettledSold || auction.CurrentPrice != bid.Price {
		return nil, errors.Wrapf(domain.ErrBidNotPayable, "auction %s is %s at %d",
			auction.ID, auction.Status, auction.CurrentPrice)
	}
	return bid, nil
}

// once runs apply under lockName unless an entry for cause already exists,
// in which case that entry is stored into existing.
func (s *PaymentService) once(ctx context.Context, lockName string, cause domain.Cause,
	apply func(ctx context.Context) error, existing **domain.LedgerEntry) error {
	err := s.locker.WithLock(ctx, lockName, s.timeouts.Wait, s.timeouts.Lease, func(ctx context.Context) error {
		prior, err := s.ledger.FindByCause(ctx, cause)
		switch {
		case err == nil:
			s.log.Info("Cause already applied", "cause", cause.String(), "entry_id", prior.ID)
			*existing = prior
			return nil
		case !errors.Is(err, domain.ErrEntryNotFound):
			return err
		}
		return apply(ctx)
	})
	if errors.Is(err, domain.ErrLockUnavailable) && !errors.Is(err, domain.ErrContended) {
		return domain.Contended(err, cause.String())
	}
	return err
}
