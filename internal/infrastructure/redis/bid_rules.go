package redis

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"auction-marketplace/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

// BiddingRules serves minimum increments from tiers stored in Redis.
type BiddingRules struct {
	client      *redis.Client
	key         string
	defaultStep int64

	mu    sync.RWMutex
	tiers []domain.IncrementTier
}

func NewBiddingRules(client *redis.Client, key string, defaultStep int64) *BiddingRules {
	return &BiddingRules{
		client:      client,
		key:         key,
		defaultStep: defaultStep,
	}
}

func (v *BiddingRules) LoadRules(ctx context.Context) error {
	data, err := v.client.Get(ctx, v.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			v.setTiers([]domain.IncrementTier{{From: 0, Step: v.defaultStep}})
			return v.saveRules(ctx)
		}
		return errors.Wrap(err, "load bid rules")
	}

	var rules domain.BidIncrementRules
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return errors.Wrap(err, "decode bid rules")
	}
	for _, t := range rules.Tiers {
		if t.Step <= 0 {
			return errors.Newf("bid rule tier from %d has non-positive step %d", t.From, t.Step)
		}
	}
	v.setTiers(rules.Tiers)
	return nil
}

func (v *BiddingRules) setTiers(tiers []domain.IncrementTier) {
	sorted := append([]domain.IncrementTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	v.mu.Lock()
	v.tiers = sorted
	v.mu.Unlock()
}

func (v *BiddingRules) saveRules(ctx context.Context) error {
	v.mu.RLock()
	data, err := json.Marshal(domain.BidIncrementRules{Tiers: v.tiers})
	v.mu.RUnlock()
	if err != nil {
		return err
	}
	return v.client.Set(ctx, v.key, string(data), 0).Err()
}

func (v *BiddingRules) MinimumNext(current int64) int64 {
	return current + v.step(current)
}

func (v *BiddingRules) step(amount int64) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	step := v.defaultStep
	for _, t := range v.tiers {
		if amount >= t.From {
			step = t.Step
		}
	}
	if step <= 0 {
		return 1
	}
	return step
}
