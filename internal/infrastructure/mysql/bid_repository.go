package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
)

const bidColumns = `id, auction_id, bidder_id, price, status, created_at, updated_at`

type BidRepository struct {
	q queryer
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var b domain.Bid
	var status int
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Price, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = domain.BidStatus(status)
	return &b, nil
}

func (r *BidRepository) Create(ctx context.Context, b *domain.Bid) error {
	query := `
        INSERT INTO bids (` + bidColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.q.ExecContext(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Price, int(b.Status), b.CreatedAt, b.UpdatedAt)
	return domain.Persistence(err, "insert bid")
}

func (r *BidRepository) Get(ctx context.Context, bidID string) (*domain.Bid, error) {
	b, err := scanBid(r.q.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = ?`, bidID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrBidNotFound, "bid %s", bidID)
	}
	if err != nil {
		return nil, domain.Persistence(err, "select bid")
	}
	return b, nil
}

func (r *BidRepository) HasBidFrom(ctx context.Context, auctionID, bidderID string) (bool, error) {
	var exists int
	err := r.q.QueryRowContext(ctx,
		`SELECT 1 FROM bids WHERE auction_id = ? AND bidder_id = ? LIMIT 1`, auctionID, bidderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Persistence(err, "check bidder")
	}
	return true, nil
}

func (r *BidRepository) HighestByStatus(ctx context.Context, auctionID string, status domain.BidStatus) (*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + ` FROM bids
        WHERE auction_id = ? AND status = ?
        ORDER BY price DESC, seq ASC
        LIMIT 1
    `
	b, err := scanBid(r.q.QueryRowContext(ctx, query, auctionID, int(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrBidNotFound, "no %s bid on %s", status, auctionID)
	}
	if err != nil {
		return nil, domain.Persistence(err, "select highest bid")
	}
	return b, nil
}

func (r *BidRepository) FindByPrice(ctx context.Context, auctionID string, price int64) (*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + ` FROM bids
        WHERE auction_id = ? AND price = ?
        ORDER BY seq ASC
        LIMIT 1
    `
	b, err := scanBid(r.q.QueryRowContext(ctx, query, auctionID, price))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrBidNotFound, "no bid of %d on %s", price, auctionID)
	}
	if err != nil {
		return nil, domain.Persistence(err, "select bid by price")
	}
	return b, nil
}

func (r *BidRepository) UpdateStatus(ctx context.Context, bidID string, status domain.BidStatus, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE bids SET status = ?, updated_at = ? WHERE id = ?`, int(status), at, bidID)
	if err != nil {
		return domain.Persistence(err, "update bid status")
	}
	return expectRow(res, domain.ErrBidNotFound, bidID)
}

func (r *BidRepository) MarkActiveOutbid(ctx context.Context, auctionID, keepID string, at time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
        UPDATE bids SET status = ?, updated_at = ?
        WHERE auction_id = ? AND status = ? AND id <> ?
    `, int(domain.BidOutbid), at, auctionID, int(domain.BidActive), keepID)
	if err != nil {
		return 0, domain.Persistence(err, "mark bids outbid")
	}
	n, err := res.RowsAffected()
	return n, domain.Persistence(err, "rows affected")
}

func (r *BidRepository) ListByAuction(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error) {
	return r.list(ctx, `
        SELECT `+bidColumns+` FROM bids
        WHERE auction_id = ?
        ORDER BY seq DESC
        LIMIT ?
    `, auctionID, limit)
}

func (r *BidRepository) ListByBidder(ctx context.Context, bidderID string, offset, limit int) ([]*domain.Bid, error) {
	return r.list(ctx, `
        SELECT `+bidColumns+` FROM bids
        WHERE bidder_id = ?
        ORDER BY seq DESC
        LIMIT ? OFFSET ?
    `, bidderID, limit, offset)
}

func (r *BidRepository) ListByStatus(ctx context.Context, auctionID string, status domain.BidStatus) ([]*domain.Bid, error) {
	return r.list(ctx, `
        SELECT `+bidColumns+` FROM bids
        WHERE auction_id = ? AND status = ?
        ORDER BY seq ASC
    `, auctionID, int(status))
}

func (r *BidRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Bid, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence(err, "select bids")
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, domain.Persistence(err, "scan bid")
		}
		bids = append(bids, b)
	}
	return bids, domain.Persistence(rows.Err(), "iterate bids")
}
