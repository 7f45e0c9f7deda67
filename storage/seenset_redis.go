package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"listing-monitor/utils"
)

const (
	seenKey      = "listing-monitor:seen"
	seenSeqKey   = "listing-monitor:seen:seq"
	redisTimeout = 5 * time.Second
)

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}

// RedisSeenSet stores the seen-set in a sorted set scored by an insertion
// sequence, so the lowest ranks are always the oldest ids.
type RedisSeenSet struct {
	client   *redis.Client
	capacity int
	key      string
	seqKey   string
	logger   *utils.Logger
}

// NewRedisSeenSet wraps an existing client.
func NewRedisSeenSet(client *redis.Client, capacity int, logger *utils.Logger) *RedisSeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &RedisSeenSet{
		client:   client,
		capacity: capacity,
		key:      seenKey,
		seqKey:   seenSeqKey,
		logger:   logger,
	}
}

func (s *RedisSeenSet) Has(ctx context.Context, id string) (bool, error) {
	_, err := s.client.ZScore(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, &PersistenceError{Op: "zscore", Path: s.key, Err: err}
	}
	return true, nil
}

// MarkSeen adds id and trims the set to capacity in one transaction.
func (s *RedisSeenSet) MarkSeen(ctx context.Context, id string) error {
	seq, err := s.client.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return &PersistenceError{Op: "incr", Path: s.seqKey, Err: err}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, s.key, redis.Z{Score: float64(seq), Member: id})
		pipe.ZRemRangeByRank(ctx, s.key, 0, int64(-(s.capacity + 1)))
		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "zadd", Path: s.key, Err: err}
	}
	return nil
}

func (s *RedisSeenSet) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		s.logger.Warn("[seen] redis size: %v", err)
		return 0
	}
	return int(n)
}

func (s *RedisSeenSet) IDs() []string {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	ids, err := s.client.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		s.logger.Warn("[seen] redis range: %v", err)
		return nil
	}
	return ids
}
