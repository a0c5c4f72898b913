package spend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGate tracks daily usage in a redis counter keyed by calendar day (UTC).
// The counter expires shortly after midnight so stale days never accumulate.
type RedisGate struct {
	client     *redis.Client
	dailyLimit int
	now        func() time.Time
}

// NewRedisGate creates a gate allowing at most dailyLimit submissions per day.
func NewRedisGate(client *redis.Client, dailyLimit int) *RedisGate {
	return &RedisGate{client: client, dailyLimit: dailyLimit, now: time.Now}
}

// CanStart reports whether another paid submission may start today.
func (g *RedisGate) CanStart(ctx context.Context) (Decision, error) {
	used, err := g.client.Get(ctx, g.key()).Int()
	if err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("spend: read usage: %w", err)
	}
	remaining := g.dailyLimit - used
	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: 0, Reason: "daily generation limit reached"}, nil
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// RecordUsage counts one successful provider submission.
func (g *RedisGate) RecordUsage(ctx context.Context) error {
	key := g.key()
	used, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("spend: record usage: %w", err)
	}
	if used == 1 {
		// First usage of the day owns the expiry.
		midnight := g.now().UTC().Truncate(24 * time.Hour).Add(25 * time.Hour)
		if err := g.client.ExpireAt(ctx, key, midnight).Err(); err != nil {
			return fmt.Errorf("spend: set expiry: %w", err)
		}
	}
	return nil
}

func (g *RedisGate) key() string {
	return "spend:videogen:" + g.now().UTC().Format("2006-01-02")
}

var _ Gate = (*RedisGate)(nil)
