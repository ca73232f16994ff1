package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
)

const auctionColumns = `id, seller_id, title, initial_price, current_price, status,
        start_time, end_time, bidder_count, created_at, updated_at`

type AuctionRepository struct {
	q queryer
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var a domain.Auction
	var status int
	err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.InitialPrice, &a.CurrentPrice, &status,
		&a.StartTime, &a.EndTime, &a.BidderCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AuctionStatus(status)
	return &a, nil
}

func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		a.ID, a.SellerID, a.Title, a.InitialPrice, a.CurrentPrice, int(a.Status),
		a.StartTime, a.EndTime, a.BidderCount, a.CreatedAt, a.UpdatedAt)
	return domain.Persistence(err, "insert auction")
}

func (r *AuctionRepository) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return r.get(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, auctionID)
}

func (r *AuctionRepository) GetForUpdate(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return r.get(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ? FOR UPDATE`, auctionID)
}

func (r *AuctionRepository) get(ctx context.Context, query, auctionID string) (*domain.Auction, error) {
	a, err := scanAuction(r.q.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrAuctionNotFound, "auction %s", auctionID)
	}
	if err != nil {
		return nil, domain.Persistence(err, "select auction")
	}
	return a, nil
}

func (r *AuctionRepository) Update(ctx context.Context, a *domain.Auction) error {
	query := `
        UPDATE auctions
        SET current_price = ?, status = ?, bidder_count = ?, end_time = ?, updated_at = ?
        WHERE id = ?
    `
	res, err := r.q.ExecContext(ctx, query,
		a.CurrentPrice, int(a.Status), a.BidderCount, a.EndTime, a.UpdatedAt, a.ID)
	if err != nil {
		return domain.Persistence(err, "update auction")
	}
	return expectRow(res, domain.ErrAuctionNotFound, a.ID)
}

func (r *AuctionRepository) FindExpiredOpen(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
        SELECT id FROM auctions
        WHERE status = ? AND end_time <= ?
        ORDER BY end_time ASC
        LIMIT ?
    `
	return r.ids(ctx, query, int(domain.AuctionOpen), now, limit)
}

func (r *AuctionRepository) FindDueNotStarted(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
        SELECT id FROM auctions
        WHERE status = ? AND start_time <= ?
        ORDER BY start_time ASC
        LIMIT ?
    `
	return r.ids(ctx, query, int(domain.AuctionNotStarted), now, limit)
}

func (r *AuctionRepository) FindEndingBetween(ctx context.Context, from, to time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + ` FROM auctions
        WHERE status = ? AND end_time >= ? AND end_time < ?
        ORDER BY end_time ASC
    `
	rows, err := r.q.QueryContext(ctx, query, int(domain.AuctionOpen), from, to)
	if err != nil {
		return nil, domain.Persistence(err, "select auctions ending soon")
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, domain.Persistence(err, "scan auction")
		}
		auctions = append(auctions, a)
	}
	return auctions, domain.Persistence(rows.Err(), "iterate auctions")
}

func (r *AuctionRepository) ids(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence(err, "select auction ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Persistence(err, "scan auction id")
		}
		ids = append(ids, id)
	}
	return ids, domain.Persistence(rows.Err(), "iterate auction ids")
}

// expectRow turns a zero-row UPDATE into notFound.
func expectRow(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(notFound, "%s", id)
	}
	return nil
}
