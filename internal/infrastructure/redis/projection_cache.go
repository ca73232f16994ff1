package redis

import (
	"context"
	"fmt"
	"strconv"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

// ProjectionCache keeps a denormalised per-auction hash for the search and
// listing read paths. It is fed exclusively by change events.
type ProjectionCache struct {
	client *redis.Client
}

type AuctionProjection struct {
	AuctionID   string `json:"auction_id"`
	Price       int64  `json:"price"`
	Status      string `json:"status"`
	BidderCount int    `json:"bidder_count"`
	UpdatedAt   int64  `json:"updated_at"`
}

func NewProjectionCache(client *redis.Client) *ProjectionCache {
	return &ProjectionCache{client: client}
}

func projectionKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:projection", auctionID)
}

func (p *ProjectionCache) Name() string {
	return "search-projection"
}

// Consume implements domain.ChangeSink.
func (p *ProjectionCache) Consume(ctx context.Context, event *domain.ChangeEvent) error {
	key := projectionKey(event.AuctionID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, string(event.Field), event.NewValue)
		pipe.HSet(ctx, key, "updated_at", event.OccurredAt.Unix())
		return nil
	})
	return errors.Wrapf(err, "update projection %s", event.AuctionID)
}

// Seed writes the full projection, used when an auction is created.
func (p *ProjectionCache) Seed(ctx context.Context, a *domain.Auction) error {
	err := p.client.HSet(ctx, projectionKey(a.ID),
		string(domain.FieldPrice), a.CurrentPrice,
		string(domain.FieldStatus), a.Status.String(),
		string(domain.FieldBidderCount), a.BidderCount,
		"updated_at", a.UpdatedAt.Unix(),
	).Err()
	return errors.Wrapf(err, "seed projection %s", a.ID)
}

func (p *ProjectionCache) Get(ctx context.Context, auctionID string) (*AuctionProjection, error) {
	fields, err := p.client.HGetAll(ctx, projectionKey(auctionID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read projection %s", auctionID)
	}
	if len(fields) == 0 {
		return nil, errors.Wrapf(domain.ErrAuctionNotFound, "projection %s", auctionID)
	}

	proj := &AuctionProjection{AuctionID: auctionID, Status: fields[string(domain.FieldStatus)]}
	proj.Price, _ = strconv.ParseInt(fields[string(domain.FieldPrice)], 10, 64)
	proj.BidderCount, _ = strconv.Atoi(fields[string(domain.FieldBidderCount)])
	proj.UpdatedAt, _ = strconv.ParseInt(fields["updated_at"], 10, 64)
	return proj, nil
}
