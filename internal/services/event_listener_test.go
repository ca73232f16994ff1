package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/websocket"
	"auction-marketplace/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	userID, auctionID string

	mu     sync.Mutex
	frames []map[string]interface{}
	closed bool
}

func (c *fakeConn) Send(message []byte) error {
	var frame map[string]interface{}
	if err := json.Unmarshal(message, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) UserID() string    { return c.userID }
func (c *fakeConn) AuctionID() string { return c.auctionID }

func (c *fakeConn) Frames() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]interface{}(nil), c.frames...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// replaySubscriber hands a fixed script of messages to the listener.
type replaySubscriber struct {
	changes []*domain.ChangeEvent
	notices []*domain.AuctionNotice
	users   []*domain.UserMessage
}

func (s *replaySubscriber) SubscribeToChanges(ctx context.Context, onChange domain.ChangeHandler,
	onNotice domain.NoticeHandler, onUser domain.UserMessageHandler) error {
	for _, n := range s.notices {
		if err := onNotice(n); err != nil {
			return err
		}
	}
	for _, m := range s.users {
		if err := onUser(m); err != nil {
			return err
		}
	}
	for _, e := range s.changes {
		if err := onChange(e); err != nil {
			return err
		}
	}
	return nil
}

func newListener() (*EventListener, *websocket.ConnectionManager) {
	log := logger.NewNop()
	cm := websocket.NewConnectionManager(log)
	ws := websocket.NewWebSocketNotifier(cm)
	return NewEventListener(cm, ws, ws, log), cm
}

func TestEventListener_ForwardsChangesToViewers(t *testing.T) {
	el, cm := newListener()
	viewer := &fakeConn{userID: "u1", auctionID: "a1"}
	other := &fakeConn{userID: "u2", auctionID: "a2"}
	require.NoError(t, cm.RegisterConnection("u1", "a1", viewer))
	require.NoError(t, cm.RegisterConnection("u2", "a2", other))

	sub := &replaySubscriber{changes: []*domain.ChangeEvent{
		{ID: "e1", AuctionID: "a1", Field: domain.FieldPrice, OldValue: "100", NewValue: "150", OccurredAt: t0},
		{ID: "e2", AuctionID: "a1", Field: domain.FieldBidderCount, OldValue: "0", NewValue: "1", OccurredAt: t0},
	}}
	require.NoError(t, el.Start(context.Background(), sub))

	frames := viewer.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "price_changed", frames[0]["type"])
	assert.Equal(t, "150", frames[0]["new_value"])
	assert.Equal(t, "bidder_count_changed", frames[1]["type"])
	assert.Empty(t, other.Frames())
	assert.False(t, viewer.Closed())
}

func TestEventListener_SettlementClosesViewers(t *testing.T) {
	el, cm := newListener()
	viewer := &fakeConn{userID: "u1", auctionID: "a1"}
	require.NoError(t, cm.RegisterConnection("u1", "a1", viewer))

	sub := &replaySubscriber{changes: []*domain.ChangeEvent{{
		ID: "e1", AuctionID: "a1", Field: domain.FieldStatus,
		OldValue: domain.AuctionOpen.String(), NewValue: domain.AuctionSettledSold.String(), OccurredAt: t0,
	}}}
	require.NoError(t, el.Start(context.Background(), sub))

	frames := viewer.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "status_changed", frames[0]["type"])
	assert.Equal(t, "auction_ended", frames[1]["type"])
	assert.Equal(t, domain.AuctionSettledSold.String(), frames[1]["outcome"])
	assert.True(t, viewer.Closed())
	assert.Empty(t, cm.GetConnectionsForAuction("a1"))
	assert.Empty(t, cm.GetConnectionsForUser("u1"))
}

func TestEventListener_NoticesAndUserMessages(t *testing.T) {
	el, cm := newListener()
	seller := &fakeConn{userID: "seller", auctionID: "a1"}
	require.NoError(t, cm.RegisterConnection("seller", "a1", seller))

	sub := &replaySubscriber{
		notices: []*domain.AuctionNotice{{
			Type: domain.NoticeEndingSoon, AuctionID: "a1", EndTime: t0.Add(5 * time.Minute), Timestamp: t0,
		}},
		users: []*domain.UserMessage{{
			JobID: "job_1", RecipientID: "seller", AuctionID: "a1",
			Kind: domain.NotifyAuctionSold, Message: "sold",
		}},
	}
	require.NoError(t, el.Start(context.Background(), sub))

	frames := seller.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, domain.NoticeEndingSoon, frames[0]["type"])
	assert.Equal(t, "notification", frames[1]["type"])
	assert.Equal(t, string(domain.NotifyAuctionSold), frames[1]["kind"])
	assert.Equal(t, "sold", frames[1]["message"])
}

func TestEventListener_RejectsUnknownField(t *testing.T) {
	el, _ := newListener()
	sub := &replaySubscriber{changes: []*domain.ChangeEvent{{ID: "e1", AuctionID: "a1", Field: "colour"}}}
	assert.Error(t, el.Start(context.Background(), sub))
}
