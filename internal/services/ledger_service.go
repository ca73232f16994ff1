package services

import (
	"context"
	"math"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"

	"github.com/cockroachdb/errors"
)

// LedgerService owns wallet balances. Every mutation holds the wallet's
// lease and row lock, writes the balance and appends exactly one entry.
// It does not deduplicate by cause; see PaymentService for that.
type LedgerService struct {
	uow      domain.UnitOfWork
	locker   domain.Locker
	clock    clock.Clock
	timeouts LockTimeouts
	log      logger.Logger
}

func NewLedgerService(uow domain.UnitOfWork, locker domain.Locker, clk clock.Clock,
	timeouts LockTimeouts, log logger.Logger) *LedgerService {
	return &LedgerService{
		uow:      uow,
		locker:   locker,
		clock:    clk,
		timeouts: timeouts,
		log:      log,
	}
}

func (s *LedgerService) Credit(ctx context.Context, ownerID string, amount int64, cause domain.Cause) (*domain.LedgerEntry, error) {
	return s.apply(ctx, ownerID, domain.Credit, amount, cause)
}

func (s *LedgerService) Debit(ctx context.Context, ownerID string, amount int64, cause domain.Cause) (*domain.LedgerEntry, error) {
	return s.apply(ctx, ownerID, domain.Debit, amount, cause)
}

func (s *LedgerService) apply(ctx context.Context, ownerID string, dir domain.Direction, amount int64,
	cause domain.Cause) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, errors.Wrapf(domain.ErrInvalidAmount, "%s of %d", dir, amount)
	}

	var entry *domain.LedgerEntry
	err := s.locker.WithLock(ctx, domain.WalletLockName(ownerID), s.timeouts.Wait, s.timeouts.Lease,
		func(ctx context.Context) error {
			return s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
				var err error
				entry, err = s.mutate(ctx, tx, ownerID, dir, amount, cause)
				return err
			})
		})
	if err != nil {
		if errors.Is(err, domain.ErrLockUnavailable) {
			return nil, domain.Contended(err, "wallet of "+ownerID)
		}
		if domain.Classify(err) == domain.KindPersistence {
			s.log.Error("Ledger operation failed", "owner_id", ownerID, "direction", dir,
				"amount", amount, "cause", cause.String(), "error", err)
		}
		return nil, err
	}

	s.log.Info("Ledger entry appended", "owner_id", ownerID, "entry_id", entry.ID, "direction", dir,
		"amount", amount, "balance_after", entry.BalanceAfter, "cause", cause.String())
	return entry, nil
}

func (s *LedgerService) mutate(ctx context.Context, tx domain.Tx, ownerID string, dir domain.Direction,
	amount int64, cause domain.Cause) (*domain.LedgerEntry, error) {
	now := s.clock.Now()

	wallet, err := tx.Wallets().GetByOwnerForUpdate(ctx, ownerID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrWalletNotFound) && dir == domain.Credit:
		wallet = &domain.Wallet{
			ID:        utils.GenerateID("wallet"),
			OwnerID:   ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Wallets().Create(ctx, wallet); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrWalletNotFound):
		return nil, errors.Wrapf(domain.ErrInsufficientFunds, "owner %s has no wallet", ownerID)
	default:
		return nil, err
	}

	if dir == domain.Credit && wallet.Balance > math.MaxInt64-amount {
		return nil, errors.Wrapf(domain.ErrInvalidAmount, "credit of %d overflows balance", amount)
	}
	balance := wallet.Balance + dir.Signed(amount)
	if balance < 0 {
		return nil, errors.Wrapf(domain.ErrInsufficientFunds, "balance %d, debit %d", wallet.Balance, amount)
	}

	if err := tx.Wallets().UpdateBalance(ctx, wallet.ID, balance, now); err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		ID:           utils.GenerateID("entry"),
		WalletID:     wallet.ID,
		Direction:    dir,
		Amount:       amount,
		BalanceAfter: balance,
		Cause:        cause,
		CreatedAt:    now,
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) Wallet(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return s.uow.Reader().Wallets().GetByOwner(ctx, ownerID)
}

// History lists entries newest first without taking the wallet lock.
func (s *LedgerService) History(ctx context.Context, ownerID string, offset, limit int) ([]*domain.LedgerEntry, error) {
	reader := s.uow.Reader()
	wallet, err := reader.Wallets().GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return reader.Ledger().ListByWallet(ctx, wallet.ID, offset, limit)
}

func (s *LedgerService) FindByCause(ctx context.Context, cause domain.Cause) (*domain.LedgerEntry, error) {
	return s.uow.Reader().Ledger().FindByCause(ctx, cause)
}

// Reconcile checks that the stored balance equals the signed sum of the
// wallet's entries.
func (s *LedgerService) Reconcile(ctx context.Context, ownerID string) error {
	err := s.locker.WithLock(ctx, domain.WalletLockName(ownerID), s.timeouts.Wait, s.timeouts.Lease,
		func(ctx context.Context) error {
			return s.uow.Within(ctx, func(ctx context.Context, tx domain.Tx) error {
				wallet, err := tx.Wallets().GetByOwnerForUpdate(ctx, ownerID)
				if err != nil {
					return err
				}
				sum, err := tx.Ledger().SignedSum(ctx, wallet.ID)
				if err != nil {
					return err
				}
				if sum != wallet.Balance {
					s.log.Error("Ledger mismatch", "owner_id", ownerID, "balance", wallet.Balance, "ledger_sum", sum)
					return errors.Wrapf(domain.ErrLedgerMismatch, "owner %s: balance %d, ledger %d",
						ownerID, wallet.Balance, sum)
				}
				return nil
			})
		})
	if errors.Is(err, domain.ErrLockUnavailable) {
		return domain.Contended(err, "wallet of "+ownerID)
	}
	return err
}
