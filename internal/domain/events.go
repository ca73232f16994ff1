package domain

import (
	"strconv"
	"time"
)

type ChangeField string

const (
	FieldPrice       ChangeField = "price"
	FieldStatus      ChangeField = "status"
	FieldBidderCount ChangeField = "bidder_count"
)

// ChangeEvent is one field-level transition of an auction. Values are
// rendered as strings so every sink can consume them without the aggregate.
type ChangeEvent struct {
	ID         string      `json:"id"`
	AuctionID  string      `json:"auction_id"`
	Field      ChangeField `json:"field"`
	OldValue   string      `json:"old_value"`
	NewValue   string      `json:"new_value"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type auctionSnapshot struct {
	price       int64
	status      AuctionStatus
	bidderCount int
}

// ChangeTracker captures an auction before a mutation and reports which
// observable fields differ afterwards.
type ChangeTracker struct {
	auctionID string
	before    auctionSnapshot
}

func TrackAuction(a *Auction) ChangeTracker {
	return ChangeTracker{
		auctionID: a.ID,
		before:    snapshotOf(a),
	}
}

func snapshotOf(a *Auction) auctionSnapshot {
	return auctionSnapshot{price: a.CurrentPrice, status: a.Status, bidderCount: a.BidderCount}
}

// Changes returns at most one event per field, only for fields whose value
// actually differs. IDs are assigned by newID.
func (t ChangeTracker) Changes(after *Auction, at time.Time, newID func() string) []*ChangeEvent {
	now := snapshotOf(after)
	var events []*ChangeEvent

	emit := func(field ChangeField, oldValue, newValue string) {
		events = append(events, &ChangeEvent{
			ID:         newID(),
			AuctionID:  t.auctionID,
			Field:      field,
			OldValue:   oldValue,
			NewValue:   newValue,
			OccurredAt: at,
		})
	}

	if now.price != t.before.price {
		emit(FieldPrice, strconv.FormatInt(t.before.price, 10), strconv.FormatInt(now.price, 10))
	}
	if now.status != t.before.status {
		emit(FieldStatus, t.before.status.String(), now.status.String())
	}
	if now.bidderCount != t.before.bidderCount {
		emit(FieldBidderCount, strconv.Itoa(t.before.bidderCount), strconv.Itoa(now.bidderCount))
	}
	return events
}

// ParseStatus is the inverse of AuctionStatus.String.
func ParseStatus(s string) (AuctionStatus, bool) {
	for _, st := range []AuctionStatus{AuctionNotStarted, AuctionOpen, AuctionSettledSold, AuctionSettledUnsold} {
		if st.String() == s {
			return st, true
		}
	}
	return AuctionNotStarted, false
}
