package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentService_DepositIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.payments.Deposit(ctx, "alice", 5000, "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.Cause{Type: domain.CausePayment, ID: "key-1"}, first.Cause)

	again, created, err := f.payments.Deposit(ctx, "alice", 5000, "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(5000), f.balance(t, "alice"))

	_, created, err = f.payments.Deposit(ctx, "alice", 2500, "key-2")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(7500), f.balance(t, "alice"))
}

func TestPaymentService_ConcurrentDepositsWithSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, ok, err := f.payments.Deposit(ctx, "alice", 100, "same-key")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[entry.ID] = struct{}{}
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestPaymentService_DepositValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.payments.Deposit(ctx, "alice", 100, "  ")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	assert.Equal(t, domain.KindValidation, domain.Classify(err))

	_, _, err = f.payments.Deposit(ctx, "alice", 0, "key")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

// settledWin runs an auction to a SETTLED_SOLD outcome won by bidder.
func settledWin(t *testing.T, f *fixture, bidder string, price int64) *domain.Bid {
	t.Helper()
	ctx := context.Background()
	a := f.openAuction(t, "seller", 1000, t0.Add(time.Minute))

	bid, err := f.bids.SubmitBid(ctx, a.ID, bidder, price)
	require.NoError(t, err)

	f.clock.Add(2 * time.Minute)
	result, err := f.lifecycle.CloseExpiredAuctions(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.Sold)
	return bid
}

func TestPaymentService_PayForBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.payments.Deposit(ctx, "bob", 10000, "topup")
	require.NoError(t, err)
	bid := settledWin(t, f, "bob", 4000)

	entry, err := f.payments.PayForBid(ctx, "bob", bid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Debit, entry.Direction)
	assert.Equal(t, int64(4000), entry.Amount)
	assert.Equal(t, int64(6000), f.balance(t, "bob"))

	again, err := f.payments.PayForBid(ctx, "bob", bid.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)
	assert.Equal(t, int64(6000), f.balance(t, "bob"))
}

func TestPaymentService_PayForBidRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.payments.Deposit(ctx, "bob", 10000, "topup")
	require.NoError(t, err)

	open := f.openAuction(t, "seller", 1000, t0.Add(time.Hour))
	activeBid, err := f.bids.SubmitBid(ctx, open.ID, "bob", 2000)
	require.NoError(t, err)

	_, err = f.payments.PayForBid(ctx, "bob", activeBid.ID)
	assert.ErrorIs(t, err, domain.ErrBidNotPayable)

	_, err = f.payments.PayForBid(ctx, "bob", "bid_missing")
	assert.ErrorIs(t, err, domain.ErrBidNotFound)

	assert.Equal(t, int64(10000), f.balance(t, "bob"))
}

func TestPaymentService_PayForBidByAnotherBidder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bid := settledWin(t, f, "bob", 3000)
	_, _, err := f.payments.Deposit(ctx, "carol", 10000, "topup")
	require.NoError(t, err)

	_, err = f.payments.PayForBid(ctx, "carol", bid.ID)
	assert.ErrorIs(t, err, domain.ErrBidNotPayable)
	assert.Equal(t, int64(10000), f.balance(t, "carol"))
}

func TestPaymentService_PayForBidWithoutFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bid := settledWin(t, f, "bob", 3000)

	_, err := f.payments.PayForBid(ctx, "bob", bid.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// a later top-up lets the same payment go through
	_, _, err = f.payments.Deposit(ctx, "bob", 3000, "topup")
	require.NoError(t, err)
	entry, err := f.payments.PayForBid(ctx, "bob", bid.ID)
	require.NoError(t, err)
	assert.Zero(t, entry.BalanceAfter)
}
