package domain

import (
	"time"
)

type Auction struct {
	ID           string
	SellerID     string
	Title        string
	InitialPrice int64
	CurrentPrice int64
	Status       AuctionStatus
	StartTime    time.Time
	EndTime      time.Time
	BidderCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AcceptsBidsAt reports whether a bid placed at now may be admitted.
// The end time itself is exclusive.
func (a *Auction) AcceptsBidsAt(now time.Time) bool {
	return a.Status == AuctionOpen && now.Before(a.EndTime)
}

type AuctionStatus int

const (
	AuctionNotStarted AuctionStatus = iota
	AuctionOpen
	AuctionSettledSold
	AuctionSettledUnsold
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionNotStarted:
		return "not_started"
	case AuctionOpen:
		return "open"
	case AuctionSettledSold:
		return "settled_sold"
	case AuctionSettledUnsold:
		return "settled_unsold"
	default:
		return "unknown"
	}
}

func (s AuctionStatus) Settled() bool {
	return s == AuctionSettledSold || s == AuctionSettledUnsold
}

// CanTransitionTo enforces NOT_STARTED -> OPEN -> SETTLED_*.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionNotStarted:
		return next == AuctionOpen
	case AuctionOpen:
		return next.Settled()
	default:
		return false
	}
}

type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Price     int64
	Status    BidStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type BidStatus int

const (
	BidActive BidStatus = iota
	BidOutbid
	BidWon
	BidCancelled
)

func (s BidStatus) String() string {
	switch s {
	case BidActive:
		return "active"
	case BidOutbid:
		return "outbid"
	case BidWon:
		return "won"
	case BidCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Wallet struct {
	ID        string
	OwnerID   string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Signed returns amount with the sign implied by the direction.
func (d Direction) Signed(amount int64) int64 {
	if d == Debit {
		return -amount
	}
	return amount
}

type CauseType string

const (
	CausePayment       CauseType = "payment"
	CauseBidSettlement CauseType = "bid_settlement"
	CauseRefund        CauseType = "refund"
	CauseAdjustment    CauseType = "adjustment"
)

// Cause identifies why money moved: a tag plus the id of the originating record.
type Cause struct {
	Type CauseType
	ID   string
}

func (c Cause) String() string {
	return string(c.Type) + ":" + c.ID
}

type LedgerEntry struct {
	ID           string
	WalletID     string
	Direction    Direction
	Amount       int64
	BalanceAfter int64
	Cause        Cause
	CreatedAt    time.Time
}

type NotificationKind string

const (
	NotifyAuctionWon    NotificationKind = "auction_won"
	NotifyAuctionSold   NotificationKind = "auction_sold"
	NotifyAuctionUnsold NotificationKind = "auction_unsold"
	NotifyNewHighBid    NotificationKind = "new_high_bid"
	NotifyBidSuccess    NotificationKind = "bid_success"
	NotifyBidOutbid     NotificationKind = "bid_outbid"
	NotifyAuctionStart  NotificationKind = "auction_start"
	NotifyAuctionLost   NotificationKind = "auction_lost"
	// NotifyAuctionEnd goes to every bidder once the auction settles.
	NotifyAuctionEnd NotificationKind = "auction_end"
)

type NotificationJob struct {
	ID          string
	AuctionID   string
	RecipientID string
	Kind        NotificationKind
	Message     string
	Status      JobStatus
	RetryCount  int
	RunAt       time.Time
	CreatedAt   time.Time
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSent      JobStatus = "sent"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// AuctionNotice is a non-transactional broadcast, e.g. "ending soon".
type AuctionNotice struct {
	Type      string    `json:"type"`
	AuctionID string    `json:"auction_id"`
	EndTime   time.Time `json:"end_time"`
	Timestamp time.Time `json:"timestamp"`
}

const NoticeEndingSoon = "auction_ending_soon"

// UserMessage is a notification job on its way to a connected user.
type UserMessage struct {
	JobID       string           `json:"job_id"`
	RecipientID string           `json:"recipient_id"`
	AuctionID   string           `json:"auction_id"`
	Kind        NotificationKind `json:"kind"`
	Message     string           `json:"message"`
}

// IncrementTier applies Step to prices at or above From.
type IncrementTier struct {
	From int64 `json:"from"`
	Step int64 `json:"step"`
}

type BidIncrementRules struct {
	Tiers []IncrementTier `json:"tiers"`
}
