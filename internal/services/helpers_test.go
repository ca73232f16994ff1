package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/memory"
	"auction-marketplace/pkg/clock"
	"auction-marketplace/pkg/logger"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// recorder captures everything services publish after commit.
type recorder struct {
	mu      sync.Mutex
	events  []*domain.ChangeEvent
	notices []*domain.AuctionNotice
	batches int
}

func (r *recorder) Publish(events []*domain.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(events) > 0 {
		r.batches++
	}
	r.events = append(r.events, events...)
}

func (r *recorder) PublishNotice(ctx context.Context, notice *domain.AuctionNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	return nil
}

func (r *recorder) Events() []*domain.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.ChangeEvent(nil), r.events...)
}

func (r *recorder) Notices() []*domain.AuctionNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.AuctionNotice(nil), r.notices...)
}

type fixture struct {
	store     *memory.Store
	leases    *memory.LeaseStore
	locker    *LockCoordinator
	clock     *clock.MockClock
	published *recorder
	timeouts  LockTimeouts

	auctions  *AuctionManager
	bids      *BidService
	ledger    *LedgerService
	payments  *PaymentService
	lifecycle *LifecycleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewNop()
	f := &fixture{
		store:     memory.NewStore(),
		clock:     clock.NewMockClock(t0),
		published: &recorder{},
		timeouts:  LockTimeouts{Wait: 5 * time.Second, Lease: 10 * time.Second},
	}
	f.leases = memory.NewLeaseStore(f.clock)
	f.locker = NewLockCoordinator(f.leases, time.Millisecond, log)

	f.auctions = NewAuctionManager(f.store, nil, f.clock, log)
	f.bids = NewBidService(f.store, f.locker, FixedIncrement{Step: 1}, f.published, f.clock, f.timeouts, log)
	f.ledger = NewLedgerService(f.store, f.locker, f.clock, f.timeouts, log)
	f.payments = NewPaymentService(f.store, f.locker, f.ledger, f.timeouts, log)
	f.lifecycle = NewLifecycleService(f.store, f.locker, f.published, f.published, f.clock, f.timeouts, 100, log)
	return f
}

// openAuction creates an OPEN auction ending at end.
func (f *fixture) openAuction(t *testing.T, seller string, price int64, end time.Time) *domain.Auction {
	t.Helper()
	a, err := f.auctions.CreateAuction(context.Background(), CreateAuctionInput{
		SellerID:     seller,
		Title:        "Lot for " + seller,
		InitialPrice: price,
		StartTime:    f.clock.Now(),
		EndTime:      end,
	})
	require.NoError(t, err)
	require.Equal(t, domain.AuctionOpen, a.Status)
	return a
}

func (f *fixture) auction(t *testing.T, id string) *domain.Auction {
	t.Helper()
	a, err := f.store.Reader().Auctions().Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) balance(t *testing.T, owner string) int64 {
	t.Helper()
	w, err := f.ledger.Wallet(context.Background(), owner)
	require.NoError(t, err)
	return w.Balance
}

// pendingOutbox lists the events collectingSink has not consumed.
func (f *fixture) pendingOutbox(t *testing.T) []*domain.ChangeEvent {
	t.Helper()
	return f.pendingFor(t, "collector")
}

func (f *fixture) pendingFor(t *testing.T, sink string) []*domain.ChangeEvent {
	t.Helper()
	events, err := f.store.Reader().Outbox().FetchPending(context.Background(), sink, 1000)
	require.NoError(t, err)
	return events
}

// failingUoW wraps a UnitOfWork and fails Within for chosen auctions.
type failingUoW struct {
	domain.UnitOfWork
	fail func() bool
}

func (u failingUoW) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if u.fail() {
		return domain.Persistence(context.DeadlineExceeded, "simulated outage")
	}
	return u.UnitOfWork.Within(ctx, fn)
}
