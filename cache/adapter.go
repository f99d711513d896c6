package cache

import (
	"context"
	"time"

	"github.com/miyako/questforge/cache/local"
	cacheredis "github.com/miyako/questforge/cache/redis"
)

// ZEntry is one member of a sorted set with its score.
type ZEntry struct {
	Member string
	Score  float64
}

// Cache defines the KV and sorted-set operations the quest layer uses
// (sessions, completion leaderboard).
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sorted set
	ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZEntry, error)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// CacheConfig holds configuration for both Redis and LocalCache.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// NewCache returns a Cache backed by Redis if RedisAddr is set,
// otherwise returns an in-process LocalCache.
func NewCache(cfg CacheConfig) (Cache, error) {
	if cfg.RedisAddr != "" {
		rc, err := cacheredis.NewCache(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisCacheAdapter{c: rc}, nil
	}
	lc, err := local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
	if err != nil {
		return nil, err
	}
	return &localCacheAdapter{c: lc}, nil
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process fan-out.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	bufSize := cfg.LocalPubSubBuf
	if bufSize <= 0 {
		bufSize = 256
	}
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisPubSubAdapter{ps: rps}, nil
	}
	return &localPubSubAdapter{ps: local.NewPubSub(bufSize)}, nil
}

// ---- adapters to bridge sub-package types to the top-level interfaces ----

type localCacheAdapter struct {
	c *local.LocalCache
}

func (a *localCacheAdapter) Get(ctx context.Context, key string) (string, error) {
	return a.c.Get(ctx, key)
}

func (a *localCacheAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.c.Set(ctx, key, value, ttl)
}

func (a *localCacheAdapter) Del(ctx context.Context, keys ...string) error {
	return a.c.Del(ctx, keys...)
}

func (a *localCacheAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return a.c.Exists(ctx, key)
}

func (a *localCacheAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return a.c.SetNX(ctx, key, value, ttl)
}

func (a *localCacheAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.c.Expire(ctx, key, ttl)
}

func (a *localCacheAdapter) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	return a.c.ZIncrBy(ctx, key, delta, member)
}

func (a *localCacheAdapter) ZScore(ctx context.Context, key, member string) (float64, error) {
	return a.c.ZScore(ctx, key, member)
}

func (a *localCacheAdapter) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZEntry, error) {
	entries, err := a.c.ZRevRangeWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([]ZEntry, len(entries))
	for i, e := range entries {
		out[i] = ZEntry{Member: e.Member, Score: e.Score}
	}
	return out, nil
}

type redisCacheAdapter struct {
	c *cacheredis.RedisCache
}

func (a *redisCacheAdapter) Get(ctx context.Context, key string) (string, error) {
	return a.c.Get(ctx, key)
}

func (a *redisCacheAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.c.Set(ctx, key, value, ttl)
}

func (a *redisCacheAdapter) Del(ctx context.Context, keys ...string) error {
	return a.c.Del(ctx, keys...)
}

func (a *redisCacheAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return a.c.Exists(ctx, key)
}

func (a *redisCacheAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return a.c.SetNX(ctx, key, value, ttl)
}

func (a *redisCacheAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.c.Expire(ctx, key, ttl)
}

func (a *redisCacheAdapter) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	return a.c.ZIncrBy(ctx, key, delta, member)
}

func (a *redisCacheAdapter) ZScore(ctx context.Context, key, member string) (float64, error) {
	return a.c.ZScore(ctx, key, member)
}

func (a *redisCacheAdapter) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZEntry, error) {
	entries, err := a.c.ZRevRangeWithScores(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	out := make([]ZEntry, len(entries))
	for i, e := range entries {
		out[i] = ZEntry{Member: e.Member, Score: e.Score}
	}
	return out, nil
}

type localPubSubAdapter struct {
	ps *local.LocalPubSub
}

func (a *localPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range localCh {
			out <- &Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return out, cancel, nil
}

type redisPubSubAdapter struct {
	ps *cacheredis.RedisPubSub
}

func (a *redisPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range redisCh {
			out <- &Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return out, cancel, nil
}
