package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/courier/internal/domain"
)

const defaultStatusStreamMaxLen = 1000

// StatusEvent is one queue state change, published for live observers.
type StatusEvent struct {
	Platform   domain.Platform
	EventID    string
	StorageKey string
	Change     string
	State      domain.State
	Outcome    domain.Outcome
	Attempts   int
	At         time.Time
}

// Publisher receives queue state changes. Publishing is best effort and never
// fails a queue operation.
type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent)
}

// RedisPublisher appends status events to a capped Redis stream per platform.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisPublisher(client *redis.Client, prefix string, maxLen int64) *RedisPublisher {
	if maxLen <= 0 {
		maxLen = defaultStatusStreamMaxLen
	}
	return &RedisPublisher{client: client, prefix: prefix, maxLen: maxLen}
}

// StreamName is the status stream for platform.
func StreamName(prefix string, platform domain.Platform) string {
	return prefix + ":" + string(platform)
}

func (p *RedisPublisher) Publish(ctx context.Context, ev StatusEvent) {
	if p == nil || p.client == nil {
		return
	}

	values := map[string]any{
		"event_id":    ev.EventID,
		"storage_key": ev.StorageKey,
		"change":      ev.Change,
		"state":       string(ev.State),
		"attempts":    ev.Attempts,
		"ts":          ev.At.Format(time.RFC3339Nano),
	}
	if ev.Outcome != "" {
		values["outcome"] = string(ev.Outcome)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(p.prefix, ev.Platform),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		slog.DebugContext(ctx, "status publish failed", "error", err, "event_id", ev.EventID)
	}
}
