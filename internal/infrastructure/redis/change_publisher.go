package redis

import (
	"context"
	"encoding/json"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

// ChangePublisher fans change events, notices and user messages out over
// Redis pub/sub to every realtime instance.
type ChangePublisher struct {
	client         *redis.Client
	changeChannel  string
	noticeChannel  string
	messageChannel string
}

func NewChangePublisher(client *redis.Client, changeChannel, noticeChannel, messageChannel string) *ChangePublisher {
	return &ChangePublisher{
		client:         client,
		changeChannel:  changeChannel,
		noticeChannel:  noticeChannel,
		messageChannel: messageChannel,
	}
}

func (p *ChangePublisher) Name() string {
	return "redis-pubsub"
}

// Consume implements domain.ChangeSink.
func (p *ChangePublisher) Consume(ctx context.Context, event *domain.ChangeEvent) error {
	return p.publish(ctx, p.changeChannel, event)
}

func (p *ChangePublisher) PublishNotice(ctx context.Context, notice *domain.AuctionNotice) error {
	return p.publish(ctx, p.noticeChannel, notice)
}

func (p *ChangePublisher) PublishUserMessage(ctx context.Context, msg *domain.UserMessage) error {
	return p.publish(ctx, p.messageChannel, msg)
}

func (p *ChangePublisher) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", channel)
	}
	return nil
}
