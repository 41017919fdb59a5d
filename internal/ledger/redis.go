package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "courier:dedup-ledger"

// RedisBackend keeps entries in one sorted set scored by resolution time, so
// pruning is a single range delete.
type RedisBackend struct {
	client *redis.Client
	key    string
	owned  bool
}

func OpenRedis(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	b := NewRedisBackend(client, "")
	b.owned = true
	return b, nil
}

// NewRedisBackend uses an existing client; Close leaves it open.
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Has(ctx context.Context, eventID string) (bool, error) {
	_, err := b.client.ZScore(ctx, b.key, eventID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return true, nil
}

func (b *RedisBackend) Add(ctx context.Context, eventID string, at time.Time) error {
	if err := b.client.ZAddNX(ctx, b.key, redis.Z{Score: float64(at.Unix()), Member: eventID}).Err(); err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (b *RedisBackend) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := b.client.ZRemRangeByScore(ctx, b.key, "-inf", "("+strconv.FormatInt(cutoff.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	return int(n), nil
}

func (b *RedisBackend) Count(ctx context.Context) (int64, error) {
	n, err := b.client.ZCard(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("counting ledger: %w", err)
	}
	return n, nil
}

func (b *RedisBackend) Close() error {
	if b.owned {
		return b.client.Close()
	}
	return nil
}
