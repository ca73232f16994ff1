package services

import (
	"context"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
)

var changeMessageTypes = map[domain.ChangeField]string{
	domain.FieldPrice:       "price_changed",
	domain.FieldStatus:      "status_changed",
	domain.FieldBidderCount: "bidder_count_changed",
}

// EventListener forwards the shared change, notice and user-message
// channels to the viewers connected to this instance.
type EventListener struct {
	broadcaster       domain.AuctionBroadcaster
	notifier          domain.UserNotifier
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(connectionManager domain.ConnectionManager, broadcaster domain.AuctionBroadcaster,
	notifier domain.UserNotifier, log logger.Logger) *EventListener {
	return &EventListener{
		broadcaster:       broadcaster,
		notifier:          notifier,
		connectionManager: connectionManager,
		log:               log,
	}
}

// Start blocks until ctx is done or the subscription fails.
func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToChanges(ctx, el.handleChange, el.handleNotice, el.handleUserMessage)
}

func (el *EventListener) handleChange(event *domain.ChangeEvent) error {
	msgType, ok := changeMessageTypes[event.Field]
	if !ok {
		return errors.Newf("unknown change field %q", event.Field)
	}
	el.log.Debug("Handling change event", "type", msgType, "auction_id", event.AuctionID)

	if err := el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, map[string]interface{}{
		"type":       msgType,
		"auction_id": event.AuctionID,
		"old_value":  event.OldValue,
		"new_value":  event.NewValue,
		"timestamp":  event.OccurredAt,
	}); err != nil {
		return err
	}

	if event.Field == domain.FieldStatus {
		if status, ok := domain.ParseStatus(event.NewValue); ok && status.Settled() {
			return el.handleAuctionEnded(event)
		}
	}
	return nil
}

func (el *EventListener) handleAuctionEnded(event *domain.ChangeEvent) error {
	if err := el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, map[string]interface{}{
		"type":      "auction_ended",
		"outcome":   event.NewValue,
		"timestamp": event.OccurredAt,
	}); err != nil {
		el.log.Error("Failed to broadcast auction ended event", "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}

func (el *EventListener) handleNotice(notice *domain.AuctionNotice) error {
	return el.broadcaster.BroadcastToAuction(context.Background(), notice.AuctionID, map[string]interface{}{
		"type":      notice.Type,
		"end_time":  notice.EndTime,
		"timestamp": notice.Timestamp,
	})
}

func (el *EventListener) handleUserMessage(msg *domain.UserMessage) error {
	return el.notifier.NotifyUser(context.Background(), msg.RecipientID, map[string]interface{}{
		"type":       "notification",
		"kind":       msg.Kind,
		"auction_id": msg.AuctionID,
		"message":    msg.Message,
	})
}
