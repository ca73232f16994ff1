package domain

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "evt_" + strconv.Itoa(n)
	}
}

func TestChangeTracker_Changes(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(a *Auction)
		want   []*ChangeEvent
	}{
		{
			name:   "no change emits nothing",
			mutate: func(a *Auction) {},
			want:   nil,
		},
		{
			name: "price and bidder count",
			mutate: func(a *Auction) {
				a.CurrentPrice = 120000
				a.BidderCount = 1
			},
			want: []*ChangeEvent{
				{AuctionID: "auction_1", Field: FieldPrice, OldValue: "100000", NewValue: "120000", OccurredAt: at},
				{AuctionID: "auction_1", Field: FieldBidderCount, OldValue: "0", NewValue: "1", OccurredAt: at},
			},
		},
		{
			name: "status only",
			mutate: func(a *Auction) {
				a.Status = AuctionSettledUnsold
			},
			want: []*ChangeEvent{
				{AuctionID: "auction_1", Field: FieldStatus, OldValue: "open", NewValue: "settled_unsold", OccurredAt: at},
			},
		},
		{
			name: "value set back to the original is not a change",
			mutate: func(a *Auction) {
				a.CurrentPrice = 150000
				a.CurrentPrice = 100000
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Auction{ID: "auction_1", CurrentPrice: 100000, Status: AuctionOpen}
			tracker := TrackAuction(a)
			tt.mutate(a)

			got := tracker.Changes(a, at, sequentialIDs())
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(ChangeEvent{}, "ID")); diff != "" {
				t.Errorf("Changes() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuctionStatus_Transitions(t *testing.T) {
	assert.True(t, AuctionNotStarted.CanTransitionTo(AuctionOpen))
	assert.True(t, AuctionOpen.CanTransitionTo(AuctionSettledSold))
	assert.True(t, AuctionOpen.CanTransitionTo(AuctionSettledUnsold))
	assert.False(t, AuctionOpen.CanTransitionTo(AuctionNotStarted))
	assert.False(t, AuctionSettledSold.CanTransitionTo(AuctionOpen))
	assert.False(t, AuctionSettledUnsold.CanTransitionTo(AuctionSettledSold))
	assert.False(t, AuctionNotStarted.CanTransitionTo(AuctionSettledSold))
}

func TestParseStatus(t *testing.T) {
	for _, st := range []AuctionStatus{AuctionNotStarted, AuctionOpen, AuctionSettledSold, AuctionSettledUnsold} {
		got, ok := ParseStatus(st.String())
		assert.True(t, ok)
		assert.Equal(t, st, got)
	}
	_, ok := ParseStatus("bogus")
	assert.False(t, ok)
}

func TestAuction_AcceptsBidsAt(t *testing.T) {
	end := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a := &Auction{Status: AuctionOpen, EndTime: end}

	assert.True(t, a.AcceptsBidsAt(end.Add(-time.Second)))
	assert.False(t, a.AcceptsBidsAt(end))
	assert.False(t, a.AcceptsBidsAt(end.Add(time.Second)))

	a.Status = AuctionNotStarted
	assert.False(t, a.AcceptsBidsAt(end.Add(-time.Hour)))
}
