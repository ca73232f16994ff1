package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
)

const walletColumns = `id, owner_id, balance, created_at, updated_at`

type WalletRepository struct {
	q queryer
}

func (r *WalletRepository) Create(ctx context.Context, w *domain.Wallet) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO wallets (`+walletColumns+`) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.OwnerID, w.Balance, w.CreatedAt, w.UpdatedAt)
	return domain.Persistence(err, "insert wallet")
}

func (r *WalletRepository) GetByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return r.get(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = ?`, ownerID)
}

func (r *WalletRepository) GetByOwnerForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return r.get(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = ? FOR UPDATE`, ownerID)
}

func (r *WalletRepository) get(ctx context.Context, query, ownerID string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.q.QueryRowContext(ctx, query, ownerID).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "owner %s", ownerID)
	}
	if err != nil {
		return nil, domain.Persistence(err, "select wallet")
	}
	return &w, nil
}

func (r *WalletRepository) UpdateBalance(ctx context.Context, walletID string, balance int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`, balance, at, walletID)
	if err != nil {
		return domain.Persistence(err, "update wallet balance")
	}
	return expectRow(res, domain.ErrWalletNotFound, walletID)
}
