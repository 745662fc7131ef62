package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

const redisKeyPrefix = "oracle:history:"

// RedisStore keeps each location's records in a capped Redis list, newest at the head.
type RedisStore struct {
	client     redis.Cmdable
	maxHistory int
	maxAge     time.Duration
}

// NewRedisStore connects to the Redis instance at url (redis://...).
func NewRedisStore(url string, maxHistory int, maxAge time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opt), maxHistory, maxAge), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.Cmdable, maxHistory int, maxAge time.Duration) *RedisStore {
	return &RedisStore{client: client, maxHistory: maxHistory, maxAge: maxAge}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisKey(loc weather.Location) string {
	return redisKeyPrefix + loc.Key()
}

// Save pushes rec onto its location's list, trims it and refreshes the expiry.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := redisKey(rec.Location)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	if s.maxHistory > 0 {
		pipe.LTrim(ctx, key, 0, int64(s.maxHistory-1))
	}
	if s.maxAge > 0 {
		pipe.Expire(ctx, key, s.maxAge)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save record %s: %w", key, err)
	}
	return nil
}

// Latest returns the head of the location's list.
func (s *RedisStore) Latest(ctx context.Context, loc weather.Location) (Record, error) {
	recs, err := s.Recent(ctx, loc, 1)
	if err != nil {
		return Record{}, err
	}
	return recs[0], nil
}

// Recent returns up to limit records, newest first. Records older than maxAge are skipped.
func (s *RedisStore) Recent(ctx context.Context, loc weather.Location, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	key := redisKey(loc)
	raw, err := s.client.LRange(ctx, key, 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read history %s: %w", key, err)
	}

	var cutoff time.Time
	if s.maxAge > 0 {
		cutoff = time.Now().Add(-s.maxAge)
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", key, err)
		}
		if !cutoff.IsZero() && rec.CheckedAt.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
