package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps per-key windows in Redis sorted sets. Scores and
// members are nanosecond timestamps; a per-process sequence suffix keeps
// members unique when two requests land on the same nanosecond.
type RedisStore struct {
	rdb *redis.Client
	seq atomic.Uint64
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Slide implements Store with one MULTI/EXEC round trip.
func (s *RedisStore) Slide(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int, time.Time, error) {
	nowNS := now.UnixNano()
	cutoff := nowNS - window.Nanoseconds()
	member := strconv.FormatInt(nowNS, 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)

	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowNS), Member: member})
	cardCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("slide window %q: %w", key, err)
	}

	count := int(cardCmd.Val())
	oldest := now
	if zs := oldestCmd.Val(); len(zs) > 0 {
		oldest = time.Unix(0, int64(zs[0].Score))
	}
	return count, oldest, nil
}
