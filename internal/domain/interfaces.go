package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mock/mock_interfaces.go -package=mock_domain auction-marketplace/internal/domain ChangeSink,LeaderElection

// Store interfaces. Implementations returned by a Tx run inside that
// transaction; the ones returned by UnitOfWork.Reader do not lock.

type AuctionStore interface {
	Create(ctx context.Context, auction *Auction) error
	Get(ctx context.Context, auctionID string) (*Auction, error)
	// GetForUpdate takes an exclusive row lock until the transaction ends.
	GetForUpdate(ctx context.Context, auctionID string) (*Auction, error)
	Update(ctx context.Context, auction *Auction) error
	FindExpiredOpen(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindDueNotStarted(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindEndingBetween(ctx context.Context, from, to time.Time) ([]*Auction, error)
}

type BidStore interface {
	Create(ctx context.Context, bid *Bid) error
	Get(ctx context.Context, bidID string) (*Bid, error)
	HasBidFrom(ctx context.Context, auctionID, bidderID string) (bool, error)
	// HighestByStatus returns the highest-priced bid in status, earliest
	// first on ties, or ErrBidNotFound.
	HighestByStatus(ctx context.Context, auctionID string, status BidStatus) (*Bid, error)
	// FindByPrice returns the earliest bid at price in any status, or ErrBidNotFound.
	FindByPrice(ctx context.Context, auctionID string, price int64) (*Bid, error)
	UpdateStatus(ctx context.Context, bidID string, status BidStatus, at time.Time) error
	// MarkActiveOutbid flips every ACTIVE bid except keepID to OUTBID.
	MarkActiveOutbid(ctx context.Context, auctionID, keepID string, at time.Time) (int64, error)
	ListByAuction(ctx context.Context, auctionID string, limit int) ([]*Bid, error)
	// ListByBidder pages through one bidder's bids, newest first.
	ListByBidder(ctx context.Context, bidderID string, offset, limit int) ([]*Bid, error)
	// ListByStatus returns every bid on auctionID in status.
	ListByStatus(ctx context.Context, auctionID string, status BidStatus) ([]*Bid, error)
}

type WalletStore interface {
	Create(ctx context.Context, wallet *Wallet) error
	GetByOwner(ctx context.Context, ownerID string) (*Wallet, error)
	GetByOwnerForUpdate(ctx context.Context, ownerID string) (*Wallet, error)
	UpdateBalance(ctx context.Context, walletID string, balance int64, at time.Time) error
}

type LedgerStore interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	FindByCause(ctx context.Context, cause Cause) (*LedgerEntry, error)
	ListByWallet(ctx context.Context, walletID string, offset, limit int) ([]*LedgerEntry, error)
	SignedSum(ctx context.Context, walletID string) (int64, error)
}

// OutboxStore tracks delivery per sink. An event is pending for a sink
// until MarkDelivered records it, and is retired once every sink has it.
type OutboxStore interface {
	Append(ctx context.Context, events []*ChangeEvent) error
	// FetchPending returns events not yet delivered to sink, in commit order.
	FetchPending(ctx context.Context, sink string, limit int) ([]*ChangeEvent, error)
	MarkDelivered(ctx context.Context, sink string, ids []string, at time.Time) error
	// MarkDispatched retires those of ids that every one of sinks has consumed.
	MarkDispatched(ctx context.Context, ids, sinks []string, at time.Time) error
}

type Tx interface {
	Auctions() AuctionStore
	Bids() BidStore
	Wallets() WalletStore
	Ledger() LedgerStore
	Outbox() OutboxStore
}

type UnitOfWork interface {
	// Within runs fn in one transaction: committed when fn returns nil,
	// rolled back otherwise.
	Within(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Reader() Tx
}

// AuctionIndexer seeds read models when an auction is created.
type AuctionIndexer interface {
	Seed(ctx context.Context, auction *Auction) error
}

type NotificationQueue interface {
	Enqueue(ctx context.Context, job *NotificationJob) error
	GetPendingJobs(ctx context.Context, before time.Time, maxRetries, limit int) ([]*NotificationJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error
	MarkFailed(ctx context.Context, jobID string) error
}

// Lock coordination

type Locker interface {
	// WithLock runs body while holding the named lease. body's context is
	// cancelled when leaseTimeout elapses. Returns ErrLockUnavailable
	// without running body if the lease is not acquired within waitTimeout.
	WithLock(ctx context.Context, name string, waitTimeout, leaseTimeout time.Duration,
		body func(ctx context.Context) error) error
}

// LeaseStore is an atomic set-if-absent-with-expiry primitive.
type LeaseStore interface {
	TryAcquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, token string) error
}

// Change fan-out

type ChangeSink interface {
	Name() string
	Consume(ctx context.Context, event *ChangeEvent) error
}

type ChangePublisher interface {
	Publish(events []*ChangeEvent)
}

type NoticePublisher interface {
	PublishNotice(ctx context.Context, notice *AuctionNotice) error
}

type UserMessagePublisher interface {
	PublishUserMessage(ctx context.Context, msg *UserMessage) error
}

type ChangeHandler func(event *ChangeEvent) error
type NoticeHandler func(notice *AuctionNotice) error
type UserMessageHandler func(msg *UserMessage) error

type EventSubscriber interface {
	SubscribeToChanges(ctx context.Context, onChange ChangeHandler, onNotice NoticeHandler,
		onUser UserMessageHandler) error
}

type BiddingRule interface {
	MinimumNext(current int64) int64
}

// Notification interfaces
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message []byte) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
