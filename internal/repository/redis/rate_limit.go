package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/google/uuid"

	"github.com/tranzio/tranzio-api/internal/core/port"
)

// RateLimitRepository keeps sliding-window hits in Redis sorted sets scored by unix nanoseconds.
type RateLimitRepository struct {
	client *red.Client
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client.
func NewRateLimitRepository(client *red.Client, keyPrefix string) *RateLimitRepository {
	return &RateLimitRepository{client: client, prefix: namespace(keyPrefix, "ratelimit")}
}

// Hit trims expired entries, records the new hit and rolls it back when the limit is exceeded.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (port.RateLimitDecision, error) {
	if limit <= 0 || window <= 0 {
		return port.RateLimitDecision{}, errors.New("limit and window must be positive")
	}

	fullKey := r.prefix + ":" + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	threshold := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "-inf", "("+threshold)
	pipe.ZAdd(ctx, fullKey, red.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, fullKey)
	oldest := pipe.ZRangeWithScores(ctx, fullKey, 0, 0)
	pipe.PExpire(ctx, fullKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return port.RateLimitDecision{}, fmt.Errorf("redis rate limit pipeline: %w", err)
	}

	decision := port.RateLimitDecision{
		Allowed: true,
		Count:   int(card.Val()),
		ResetAt: now.Add(window),
	}
	if entries := oldest.Val(); len(entries) > 0 {
		decision.ResetAt = time.Unix(0, int64(entries[0].Score)).Add(window)
	}

	if decision.Count > limit {
		if err := r.client.ZRem(ctx, fullKey, member).Err(); err != nil {
			return port.RateLimitDecision{}, fmt.Errorf("redis zrem: %w", err)
		}
		decision.Allowed = false
		decision.Count = limit
	}

	return decision, nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
