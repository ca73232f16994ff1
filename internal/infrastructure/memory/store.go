package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
)

type outboxRow struct {
	event        domain.ChangeEvent
	dispatchedAt *time.Time
}

type deliveryKey struct {
	eventID string
	sink    string
}

type state struct {
	auctions      map[string]domain.Auction
	bids          map[string]domain.Bid
	bidSeq        map[string]int
	wallets       map[string]domain.Wallet
	walletByOwner map[string]string
	entries       []domain.LedgerEntry
	outbox        []outboxRow
	deliveries    map[deliveryKey]time.Time
	jobs          map[string]domain.NotificationJob
	jobOrder      []string
	seq           int
}

func newState() *state {
	return &state{
		auctions:      make(map[string]domain.Auction),
		bids:          make(map[string]domain.Bid),
		bidSeq:        make(map[string]int),
		wallets:       make(map[string]domain.Wallet),
		walletByOwner: make(map[string]string),
		deliveries:    make(map[deliveryKey]time.Time),
		jobs:          make(map[string]domain.NotificationJob),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.bidSeq {
		c.bidSeq[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.walletByOwner {
		c.walletByOwner[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	c.entries = append([]domain.LedgerEntry(nil), s.entries...)
	c.outbox = append([]outboxRow(nil), s.outbox...)
	c.jobOrder = append([]string(nil), s.jobOrder...)
	c.seq = s.seq
	return c
}

// Store keeps every aggregate in process memory behind one mutex. A
// transaction holds the mutex for its whole duration and restores a
// snapshot on rollback, so GetForUpdate is trivially exclusive.
//
// The mutex is global: transactions on different auctions or wallets are
// serialised rather than running in parallel, and nothing is shared across
// processes. Use it for tests and single-process development only.
type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state = snapshot
			panic(p)
		}
		if err != nil {
			s.state = snapshot
		}
	}()

	if err = ctx.Err(); err != nil {
		return domain.Persistence(err, "begin transaction")
	}
	if err = fn(ctx, &tx{s: s, held: true}); err != nil {
		return err
	}
	// a transaction whose context expired must not commit
	if err = ctx.Err(); err != nil {
		return domain.Persistence(err, "commit transaction")
	}
	return nil
}

func (s *Store) Reader() domain.Tx {
	return &tx{s: s}
}

type tx struct {
	s    *Store
	held bool
}

func (t *tx) lock() func() {
	if t.held {
		return func() {}
	}
	t.s.mu.Lock()
	return t.s.mu.Unlock
}

func (t *tx) Auctions() domain.AuctionStore { return auctionStore{t} }
func (t *tx) Bids() domain.BidStore         { return bidStore{t} }
func (t *tx) Wallets() domain.WalletStore   { return walletStore{t} }
func (t *tx) Ledger() domain.LedgerStore    { return ledgerStore{t} }
func (t *tx) Outbox() domain.OutboxStore    { return outboxStore{t} }

type auctionStore struct{ t *tx }

func (r auctionStore) Create(ctx context.Context, auction *domain.Auction) error {
	defer r.t.lock()()
	st := r.t.s.state
	if _, ok := st.auctions[auction.ID]; ok {
		return errors.Mark(errors.Newf("auction %s already exists", auction.ID), domain.ErrPersistence)
	}
	st.auctions[auction.ID] = *auction
	return nil
}

func (r auctionStore) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	defer r.t.lock()()
	a, ok := r.t.s.state.auctions[auctionID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrAuctionNotFound, "auction %s", auctionID)
	}
	return &a, nil
}

func (r auctionStore) GetForUpdate(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return r.Get(ctx, auctionID)
}

func (r auctionStore) Update(ctx context.Context, auction *domain.Auction) error {
	defer r.t.lock()()
	st := r.t.s.state
	if _, ok := st.auctions[auction.ID]; !ok {
		return errors.Wrapf(domain.ErrAuctionNotFound, "auction %s", auction.ID)
	}
	st.auctions[auction.ID] = *auction
	return nil
}

func (r auctionStore) FindExpiredOpen(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer r.t.lock()()
	return r.selectIDs(limit, func(a domain.Auction) bool {
		return a.Status == domain.AuctionOpen && !a.EndTime.After(now)
	}, func(a domain.Auction) time.Time { return a.EndTime }), nil
}

func (r auctionStore) FindDueNotStarted(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer r.t.lock()()
	return r.selectIDs(limit, func(a domain.Auction) bool {
		return a.Status == domain.AuctionNotStarted && !a.StartTime.After(now)
	}, func(a domain.Auction) time.Time { return a.StartTime }), nil
}

func (r auctionStore) FindEndingBetween(ctx context.Context, from, to time.Time) ([]*domain.Auction, error) {
	defer r.t.lock()()
	var out []*domain.Auction
	for _, a := range r.t.s.state.auctions {
		if a.Status == domain.AuctionOpen && !a.EndTime.Before(from) && a.EndTime.Before(to) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (r auctionStore) selectIDs(limit int, match func(domain.Auction) bool, key func(domain.Auction) time.Time) []string {
	var matched []domain.Auction
	for _, a := range r.t.s.state.auctions {
		if match(a) {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return key(matched[i]).Before(key(matched[j])) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]string, 0, len(matched))
	for _, a := range matched {
		ids = append(ids, a.ID)
	}
	return ids
}

type bidStore struct{ t *tx }

func (r bidStore) Create(ctx context.Context, bid *domain.Bid) error {
	defer r.t.lock()()
	st := r.t.s.state
	if _, ok := st.bids[bid.ID]; ok {
		return errors.Mark(errors.Newf("bid %s already exists", bid.ID), domain.ErrPersistence)
	}
	st.seq++
	st.bids[bid.ID] = *bid
	st.bidSeq[bid.ID] = st.seq
	return nil
}

func (r bidStore) Get(ctx context.Context, bidID string) (*domain.Bid, error) {
	defer r.t.lock()()
	b, ok := r.t.s.state.bids[bidID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrBidNotFound, "bid %s", bidID)
	}
	return &b, nil
}

func (r bidStore) HasBidFrom(ctx context.Context, auctionID, bidderID string) (bool, error) {
	defer r.t.lock()()
	for _, b := range r.t.s.state.bids {
		if b.AuctionID == auctionID && b.BidderID == bidderID {
			return true, nil
		}
	}
	return false, nil
}

func (r bidStore) HighestByStatus(ctx context.Context, auctionID string, status domain.BidStatus) (*domain.Bid, error) {
	defer r.t.lock()()
	st := r.t.s.state
	var best *domain.Bid
	for _, b := range st.bids {
		if b.AuctionID != auctionID || b.Status != status {
			continue
		}
		if best == nil || b.Price > best.Price ||
			(b.Price == best.Price && st.bidSeq[b.ID] < st.bidSeq[best.ID]) {
			b := b
			best = &b
		}
	}
	if best == nil {
		return nil, errors.Wrapf(domain.ErrBidNotFound, "no %s bid for auction %s", status, auctionID)
	}
	return best, nil
}

func (r bidStore) FindByPrice(ctx context.Context, auctionID string, price int64) (*domain.Bid, error) {
	defer r.t.lock()()
	matched := r.collect(func(b domain.Bid) bool { return b.AuctionID == auctionID && b.Price == price }, false)
	if len(matched) == 0 {
		return nil, errors.Wrapf(domain.ErrBidNotFound, "no bid of %d for auction %s", price, auctionID)
	}
	return matched[0], nil
}

func (r bidStore) UpdateStatus(ctx context.Context, bidID string, status domain.BidStatus, at time.Time) error {
	defer r.t.lock()()
	st := r.t.s.state
	b, ok := st.bids[bidID]
	if !ok {
		return errors.Wrapf(domain.ErrBidNotFound, "bid %s", bidID)
	}
	b.Status = status
	b.UpdatedAt = at
	st.bids[bidID] = b
	return nil
}

func (r bidStore) MarkActiveOutbid(ctx context.Context, auctionID, keepID string, at time.Time) (int64, error) {
	defer r.t.lock()()
	st := r.t.s.state
	var n int64
	for id, b := range st.bids {
		if b.AuctionID == auctionID && b.Status == domain.BidActive && id != keepID {
			b.Status = domain.BidOutbid
			b.UpdatedAt = at
			st.bids[id] = b
			n++
		}
	}
	return n, nil
}

// ListByAuction returns the newest bids first.
func (r bidStore) ListByAuction(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error) {
	defer r.t.lock()()
	out := r.collect(func(b domain.Bid) bool { return b.AuctionID == auctionID }, true)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r bidStore) ListByBidder(ctx context.Context, bidderID string, offset, limit int) ([]*domain.Bid, error) {
	defer r.t.lock()()
	out := r.collect(func(b domain.Bid) bool { return b.BidderID == bidderID }, true)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r bidStore) ListByStatus(ctx context.Context, auctionID string, status domain.BidStatus) ([]*domain.Bid, error) {
	defer r.t.lock()()
	return r.collect(func(b domain.Bid) bool { return b.AuctionID == auctionID && b.Status == status }, false), nil
}

// collect copies the matching bids ordered by insertion. Callers hold the lock.
func (r bidStore) collect(match func(domain.Bid) bool, newestFirst bool) []*domain.Bid {
	st := r.t.s.state
	var out []*domain.Bid
	for _, b := range st.bids {
		if match(b) {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return st.bidSeq[out[i].ID] > st.bidSeq[out[j].ID]
		}
		return st.bidSeq[out[i].ID] < st.bidSeq[out[j].ID]
	})
	return out
}

type walletStore struct{ t *tx }

func (r walletStore) Create(ctx context.Context, wallet *domain.Wallet) error {
	defer r.t.lock()()
	st := r.t.s.state
	if _, ok := st.walletByOwner[wallet.OwnerID]; ok {
		return errors.Mark(errors.Newf("wallet for owner %s already exists", wallet.OwnerID), domain.ErrPersistence)
	}
	st.wallets[wallet.ID] = *wallet
	st.walletByOwner[wallet.OwnerID] = wallet.ID
	return nil
}

func (r walletStore) GetByOwner(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	defer r.t.lock()()
	st := r.t.s.state
	id, ok := st.walletByOwner[ownerID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrWalletNotFound, "owner %s", ownerID)
	}
	w := st.wallets[id]
	return &w, nil
}

func (r walletStore) GetByOwnerForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	return r.GetByOwner(ctx, ownerID)
}

func (r walletStore) UpdateBalance(ctx context.Context, walletID string, balance int64, at time.Time) error {
	defer r.t.lock()()
	st := r.t.s.state
	w, ok := st.wallets[walletID]
	if !ok {
		return errors.Wrapf(domain.ErrWalletNotFound, "wallet %s", walletID)
	}
	w.Balance = balance
	w.UpdatedAt = at
	st.wallets[walletID] = w
	return nil
}

type ledgerStore struct{ t *tx }

func (r ledgerStore) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	defer r.t.lock()()
	r.t.s.state.entries = append(r.t.s.state.entries, *entry)
	return nil
}

// FindByCause returns the earliest entry carrying cause.
func (r ledgerStore) FindByCause(ctx context.Context, cause domain.Cause) (*domain.LedgerEntry, error) {
	defer r.t.lock()()
	for _, e := range r.t.s.state.entries {
		if e.Cause == cause {
			e := e
			return &e, nil
		}
	}
	return nil, errors.Wrapf(domain.ErrEntryNotFound, "cause %s", cause)
}

// ListByWallet returns the newest entries first.
func (r ledgerStore) ListByWallet(ctx context.Context, walletID string, offset, limit int) ([]*domain.LedgerEntry, error) {
	defer r.t.lock()()
	entries := r.t.s.state.entries
	var out []*domain.LedgerEntry
	skipped := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].WalletID != walletID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		e := entries[i]
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r ledgerStore) SignedSum(ctx context.Context, walletID string) (int64, error) {
	defer r.t.lock()()
	var sum int64
	for _, e := range r.t.s.state.entries {
		if e.WalletID == walletID {
			sum += e.Direction.Signed(e.Amount)
		}
	}
	return sum, nil
}

type outboxStore struct{ t *tx }

func (r outboxStore) Append(ctx context.Context, events []*domain.ChangeEvent) error {
	defer r.t.lock()()
	st := r.t.s.state
	for _, e := range events {
		st.outbox = append(st.outbox, outboxRow{event: *e})
	}
	return nil
}

func (r outboxStore) FetchPending(ctx context.Context, sink string, limit int) ([]*domain.ChangeEvent, error) {
	defer r.t.lock()()
	st := r.t.s.state
	var out []*domain.ChangeEvent
	for _, row := range st.outbox {
		if row.dispatchedAt != nil {
			continue
		}
		if _, ok := st.deliveries[deliveryKey{row.event.ID, sink}]; ok {
			continue
		}
		e := row.event
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r outboxStore) MarkDelivered(ctx context.Context, sink string, ids []string, at time.Time) error {
	defer r.t.lock()()
	st := r.t.s.state
	for _, id := range ids {
		key := deliveryKey{id, sink}
		if _, ok := st.deliveries[key]; !ok {
			st.deliveries[key] = at
		}
	}
	return nil
}

func (r outboxStore) MarkDispatched(ctx context.Context, ids, sinks []string, at time.Time) error {
	if len(sinks) == 0 {
		return nil
	}
	defer r.t.lock()()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	st := r.t.s.state
	for i := range st.outbox {
		row := &st.outbox[i]
		if _, ok := want[row.event.ID]; !ok || row.dispatchedAt != nil {
			continue
		}
		if r.deliveredToAll(row.event.ID, sinks) {
			ts := at
			row.dispatchedAt = &ts
		}
	}
	return nil
}

func (r outboxStore) deliveredToAll(eventID string, sinks []string) bool {
	for _, sink := range sinks {
		if _, ok := r.t.s.state.deliveries[deliveryKey{eventID, sink}]; !ok {
			return false
		}
	}
	return true
}

// NotificationQueue returns the memory-backed domain.NotificationQueue.
func (s *Store) NotificationQueue() *NotificationQueue {
	return &NotificationQueue{s: s}
}

type NotificationQueue struct{ s *Store }

func (q *NotificationQueue) Enqueue(ctx context.Context, job *domain.NotificationJob) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	st := q.s.state
	if _, ok := st.jobs[job.ID]; ok {
		return nil
	}
	st.jobs[job.ID] = *job
	st.jobOrder = append(st.jobOrder, job.ID)
	return nil
}

func (q *NotificationQueue) GetPendingJobs(ctx context.Context, before time.Time, maxRetries, limit int) ([]*domain.NotificationJob, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	st := q.s.state
	var out []*domain.NotificationJob
	for _, id := range st.jobOrder {
		j := st.jobs[id]
		due := !j.RunAt.After(before)
		retryable := j.Status == domain.JobPending ||
			(j.Status == domain.JobFailed && j.RetryCount < maxRetries)
		if due && retryable {
			out = append(out, &j)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (q *NotificationQueue) UpdateJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	j, ok := q.s.state.jobs[jobID]
	if !ok {
		return errors.Newf("notification job %s not found", jobID)
	}
	j.Status = status
	q.s.state.jobs[jobID] = j
	return nil
}

func (q *NotificationQueue) MarkFailed(ctx context.Context, jobID string) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	j, ok := q.s.state.jobs[jobID]
	if !ok {
		return errors.Newf("notification job %s not found", jobID)
	}
	j.Status = domain.JobFailed
	j.RetryCount++
	q.s.state.jobs[jobID] = j
	return nil
}
