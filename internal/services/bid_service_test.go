package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidService_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openAuction(t, "seller", 100000, t0.Add(time.Hour))

	first, err := f.bids.SubmitBid(ctx, a.ID, "x", 120000)
	require.NoError(t, err)
	assert.Equal(t, domain.BidActive, first.Status)
	assert.Equal(t, int64(120000), f.auction(t, a.ID).CurrentPrice)

	_, err = f.bids.SubmitBid(ctx, a.ID, "y", 110000)
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))

	_, err = f.bids.SubmitBid(ctx, a.ID, "x", 130000)
	require.NoError(t, err)

	got := f.auction(t, a.ID)
	assert.Equal(t, int64(130000), got.CurrentPrice)
	assert.Equal(t, 1, got.BidderCount)

	bids, err := f.bids.ListBids(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	for _, b := range bids {
		assert.Equal(t, "x", b.BidderID)
		assert.Equal(t, domain.BidActive, b.Status)
	}
}

func TestBidService_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openAuction(t, "seller", 1000, t0.Add(time.Hour))

	tests := []struct {
		name      string
		auctionID string
		bidder    string
		price     int64
		want      error
		kind      domain.ErrorKind
	}{
		{"zero price", a.ID, "x", 0, domain.ErrInvalidPrice, domain.KindValidation},
		{"negative price", a.ID, "x", -5, domain.ErrInvalidPrice, domain.KindValidation},
		{"seller bids", a.ID, "seller", 2000, domain.ErrSelfBidForbidden, domain.KindValidation},
		{"equal to current", a.ID, "x", 1000, domain.ErrBidTooLow, domain.KindStateConflict},
		{"missing auction", "auction_missing", "x", 2000, domain.ErrAuctionNotOpen, domain.KindStateConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bids.SubmitBid(ctx, tt.auctionID, tt.bidder, tt.price)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, domain.Classify(err))
		})
	}

	got := f.auction(t, a.ID)
	assert.Equal(t, int64(1000), got.CurrentPrice)
	assert.Zero(t, got.BidderCount)
	assert.Empty(t, f.pendingOutbox(t))
	assert.Empty(t, f.published.Events())
}

func TestBidService_RejectsAtAndAfterEndTime(t *testing.T) {
	f := newFixture(t)
	a := f.openAuction(t, "seller", 1000, t0.Add(time.Minute))

	f.clock.Set(a.EndTime)
	_, err := f.bids.SubmitBid(context.Background(), a.ID, "x", 2000)
	assert.ErrorIs(t, err, domain.ErrAuctionNotOpen)

	f.clock.Add(time.Second)
	_, err = f.bids.SubmitBid(context.Background(), a.ID, "x", 2000)
	assert.ErrorIs(t, err, domain.ErrAuctionNotOpen)
}

func TestBidService_RejectsNotStarted(t *testing.T) {
	f := newFixture(t)
	a, err := f.auctions.CreateAuction(context.Background(), CreateAuctionInput{
		SellerID:     "seller",
		Title:        "Later",
		InitialPrice: 1000,
		StartTime:    t0.Add(time.Hour),
		EndTime:      t0.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuctionNotStarted, a.Status)

	_, err = f.bids.SubmitBid(context.Background(), a.ID, "x", 2000)
	assert.ErrorIs(t, err, domain.ErrAuctionNotOpen)
}

func TestBidService_EmitsChangedFieldsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openAuction(t, "seller", 1000, t0.Add(time.Hour))

	_, err := f.bids.SubmitBid(ctx, a.ID, "x", 1500)
	require.NoError(t, err)
	_, err = f.bids.SubmitBid(ctx, a.ID, "x", 1600)
	require.NoError(t, err)

	events := f.published.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.FieldPrice, events[0].Field)
	assert.Equal(t, domain.FieldBidderCount, events[1].Field)
	assert.Equal(t, "1", events[1].NewValue)
	assert.Equal(t, domain.FieldPrice, events[2].Field)
	assert.Equal(t, "1500", events[2].OldValue)
	assert.Equal(t, "1600", events[2].NewValue)

	pending := f.pendingOutbox(t)
	require.Len(t, pending, 3)
	for i := range pending {
		assert.Equal(t, events[i].ID, pending[i].ID)
	}
}

func TestBidService_DuplicateSubmissionInFlight(t *testing.T) {
	f := newFixture(t)
	a := f.openAuction(t, "seller", 1000, t0.Add(time.Hour))

	ok, err := f.leases.TryAcquire(context.Background(), domain.SubmissionLockName(a.ID, "x"), "inflight", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.bids.SubmitBid(context.Background(), a.ID, "x", 2000)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))

	// other bidders are unaffected
	_, err = f.bids.SubmitBid(context.Background(), a.ID, "y", 2000)
	assert.NoError(t, err)
}

func TestBidService_ContendedAuctionIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.bids.timeouts.Wait = 20 * time.Millisecond
	a := f.openAuction(t, "seller", 1000, t0.Add(time.Hour))

	_, err := f.leases.TryAcquire(context.Background(), domain.AuctionLockName(a.ID), "settler", time.Minute)
	require.NoError(t, err)

	_, err = f.bids.SubmitBid(context.Background(), a.ID, "x", 2000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrContended)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, int64(1000), f.auction(t, a.ID).CurrentPrice)
	assert.Empty(t, f.pendingOutbox(t))
}

func TestBidService_ConcurrentSubmissionsAreTotallyOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openAuction(t, "seller", 100000, t0.Add(time.Hour))

	prices := []int64{200000, 205000, 201000, 210000, 199000, 207000, 230000, 215000, 220000, 225000}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []int64
	)
	for i, p := range prices {
		wg.Add(1)
		go func(bidder string, price int64) {
			defer wg.Done()
			bid, err := f.bids.SubmitBid(ctx, a.ID, bidder, price)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrBidTooLow)
				return
			}
			mu.Lock()
			accepted = append(accepted, bid.Price)
			mu.Unlock()
		}(string(rune('a'+i)), p)
	}
	wg.Wait()

	require.NotEmpty(t, accepted)

	// newest first: each accepted bid beat the one before it
	bids, err := f.bids.ListBids(ctx, a.ID, 200)
	require.NoError(t, err)
	require.Len(t, bids, len(accepted))
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i-1].Price, bids[i].Price)
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i] > accepted[j] })
	got := f.auction(t, a.ID)
	assert.Equal(t, accepted[0], got.CurrentPrice)
	assert.Equal(t, int64(230000), got.CurrentPrice)
	assert.Equal(t, len(accepted), got.BidderCount)
}

func TestBidService_RaceBetweenTwoPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openAuction(t, "seller", 100000, t0.Add(time.Hour))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, p := range []int64{200000, 205000} {
		wg.Add(1)
		go func(i int, price int64) {
			defer wg.Done()
			_, results[i] = f.bids.SubmitBid(ctx, a.ID, []string{"x", "y"}[i], price)
		}(i, p)
	}
	wg.Wait()

	// 205000 always wins; 200000 is accepted only if it committed first
	assert.NoError(t, results[1])
	assert.Equal(t, int64(205000), f.auction(t, a.ID).CurrentPrice)
	if results[0] != nil {
		assert.ErrorIs(t, results[0], domain.ErrBidTooLow)
	}
}

func TestBidService_ListMyBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := f.openAuction(t, "seller", 1000, t0.Add(time.Hour))
	short := f.openAuction(t, "seller", 1000, t0.Add(time.Minute))

	_, err := f.bids.SubmitBid(ctx, long.ID, "x", 1500)
	require.NoError(t, err)
	_, err = f.bids.SubmitBid(ctx, short.ID, "x", 2000)
	require.NoError(t, err)
	_, err = f.bids.SubmitBid(ctx, long.ID, "y", 1600)
	require.NoError(t, err)

	f.clock.Add(2 * time.Minute)
	_, err = f.lifecycle.CloseExpiredAuctions(ctx, f.clock.Now())
	require.NoError(t, err)

	mine, err := f.bids.ListMyBids(ctx, "x", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)

	won := mine[0]
	assert.Equal(t, short.ID, won.Bid.AuctionID)
	assert.Equal(t, domain.BidWon, won.Bid.Status)
	assert.Equal(t, domain.AuctionSettledSold, won.AuctionStatus)
	assert.True(t, won.IsWinning)

	outbid := mine[1]
	assert.Equal(t, long.ID, outbid.Bid.AuctionID)
	assert.Equal(t, int64(1600), outbid.CurrentPrice)
	assert.Equal(t, domain.AuctionOpen, outbid.AuctionStatus)
	assert.False(t, outbid.IsWinning)

	page2, err := f.bids.ListMyBids(ctx, "x", 2, 1)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, long.ID, page2[0].Bid.AuctionID)

	none, err := f.bids.ListMyBids(ctx, "x", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}
