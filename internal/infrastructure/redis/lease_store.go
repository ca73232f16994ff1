package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Compare-and-delete so a caller whose lease expired cannot release the
// lease a newer holder acquired.
var releaseScript = redis.NewScript(`
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `)

// RedisLeaseStore implements domain.LeaseStore with SET NX PX.
type RedisLeaseStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLeaseStore(client *redis.Client, prefix string) *RedisLeaseStore {
	return &RedisLeaseStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisLeaseStore) key(name string) string {
	return r.prefix + name
}

func (r *RedisLeaseStore) TryAcquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(name), token, ttl).Result()
}

func (r *RedisLeaseStore) Release(ctx context.Context, name, token string) error {
	return releaseScript.Run(ctx, r.client, []string{r.key(name)}, token).Err()
}
