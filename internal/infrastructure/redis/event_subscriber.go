package redis

import (
	"context"
	"encoding/json"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type RedisEventSubscriber struct {
	client         *redis.Client
	changeChannel  string
	noticeChannel  string
	messageChannel string
	log            logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, changeChannel, noticeChannel, messageChannel string,
	log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client:         client,
		changeChannel:  changeChannel,
		noticeChannel:  noticeChannel,
		messageChannel: messageChannel,
		log:            log,
	}
}

// SubscribeToChanges blocks until ctx is done. Handler errors are logged
// and never stop the subscription.
func (r *RedisEventSubscriber) SubscribeToChanges(ctx context.Context, onChange domain.ChangeHandler,
	onNotice domain.NoticeHandler, onUser domain.UserMessageHandler) error {
	pubsub := r.client.Subscribe(ctx, r.changeChannel, r.noticeChannel, r.messageChannel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()

	r.log.Info("Subscribed to auction channels",
		"changes", r.changeChannel, "notices", r.noticeChannel, "messages", r.messageChannel)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg, onChange, onNotice, onUser)

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped")
			return ctx.Err()
		}
	}
}

func (r *RedisEventSubscriber) dispatch(msg *redis.Message, onChange domain.ChangeHandler,
	onNotice domain.NoticeHandler, onUser domain.UserMessageHandler) {
	var err error
	switch msg.Channel {
	case r.changeChannel:
		var event domain.ChangeEvent
		if err = json.Unmarshal([]byte(msg.Payload), &event); err == nil {
			err = onChange(&event)
		}
	case r.noticeChannel:
		var notice domain.AuctionNotice
		if err = json.Unmarshal([]byte(msg.Payload), &notice); err == nil {
			err = onNotice(&notice)
		}
	case r.messageChannel:
		var um domain.UserMessage
		if err = json.Unmarshal([]byte(msg.Payload), &um); err == nil {
			err = onUser(&um)
		}
	}
	if err != nil {
		r.log.Error("Failed to handle event", "channel", msg.Channel, "payload", msg.Payload, "error", err)
	}
}
