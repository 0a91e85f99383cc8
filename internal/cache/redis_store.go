package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mantonx/hap/internal/model"
)

// RedisConfig holds connection settings for the optional Redis cache
// backend, grounded on ManuGH-xg2g's internal/cache/redis.go.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// redisEntry is the JSON wire shape stored per key.
type redisEntry struct {
	SchemaVersion int          `json:"schema_version"`
	SourceURL     string       `json:"source_url"`
	Words         []model.Word `json:"words"`
	Duration      float64      `json:"duration"`
	CreatedAt     time.Time    `json:"created_at"`
}

const redisIndexKey = "hap:cache:index" // sorted set: member=sourceURL, score=createdAt unix

// RedisStore is an optional low-latency cache backend, useful when several
// HAP workers share one cache. Eviction uses a sorted set indexed by
// CreatedAt so "oldest ~50%" (spec §6) can be computed without a table scan.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func dataKey(sourceURL string) string {
	return "hap:cache:entry:" + sourceURL
}

func (s *RedisStore) Get(ctx context.Context, sourceURL string, ttl time.Duration) (model.TranscriptionCacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, dataKey(sourceURL)).Bytes()
	if err == redis.Nil {
		return model.TranscriptionCacheEntry{}, false, nil
	}
	if err != nil {
		return model.TranscriptionCacheEntry{}, false, err
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.TranscriptionCacheEntry{}, false, err
	}
	if time.Since(e.CreatedAt) > ttl {
		return model.TranscriptionCacheEntry{}, false, nil
	}

	return model.TranscriptionCacheEntry{
		SchemaVersion: e.SchemaVersion,
		SourceURL:     e.SourceURL,
		Words:         e.Words,
		Duration:      e.Duration,
		CreatedAt:     e.CreatedAt,
	}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry model.TranscriptionCacheEntry, maxEntries int) error {
	now := time.Now()
	e := redisEntry{
		SchemaVersion: SchemaVersion,
		SourceURL:     entry.SourceURL,
		Words:         entry.Words,
		Duration:      entry.Duration,
		CreatedAt:     now,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey(entry.SourceURL), data, 0) // no redis-native TTL: our own TTL check governs hits
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(now.Unix()), Member: entry.SourceURL})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return s.evictIfNeeded(ctx, maxEntries)
}

func (s *RedisStore) evictIfNeeded(ctx context.Context, maxEntries int) error {
	if maxEntries <= 0 {
		return nil
	}
	count, err := s.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return err
	}
	if int(count) <= maxEntries {
		return nil
	}

	toDrop := (int(count) + 1) / 2
	victims, err := s.client.ZRange(ctx, redisIndexKey, 0, int64(toDrop)-1).Result()
	if err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, v := range victims {
		pipe.Del(ctx, dataKey(v))
	}
	pipe.ZRem(ctx, redisIndexKey, toInterfaceSlice(victims)...)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, redisIndexKey).Result()
	return int(n), err
}

func (s *RedisStore) Clear(ctx context.Context) error {
	members, err := s.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, m := range members {
		pipe.Del(ctx, dataKey(m))
	}
	pipe.Del(ctx, redisIndexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
