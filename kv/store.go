// Package kv is a uniform facade over the external keyed coordination
// service (Redis). Every hot-path primitive — read-through caches,
// idempotency records, chat session state, SMS login codes, distributed
// locks — speaks to the service through this package, so that callers
// share one timeout policy and one view of atomicity.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("kv: key not found")

// Config configures the keyed store client.
type Config struct {
	URL       string        `long:"url" env:"URL" default:"redis://localhost:6379/0" description:"URL of the keyed store"`
	OpTimeout time.Duration `long:"op-timeout" env:"OP_TIMEOUT" default:"2s" description:"Deadline applied to individual keyed store operations"`
	PoolSize  int           `long:"pool-size" env:"POOL_SIZE" default:"100" description:"Maximum connections held by the client pool"`
}

// Batch accumulates mutations which are applied in a single
// transactional pipeline (all-or-nothing on the wire).
type Batch interface {
	Del(keys ...string)
	RPush(key string, values ...string)
	Expire(key string, ttl time.Duration)
	HSet(key string, fields map[string]string)
	SAdd(key string, members ...string)
}

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub stream. Close releases it.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Store is the keyed store surface consumed by the coordination
// primitives. A nil-safe fake can stand in for tests; the production
// implementation is *Redis.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if absent, returning whether this call won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	RPush(ctx context.Context, key string, values ...string) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Update applies the batched mutations as one MULTI/EXEC pipeline.
	Update(ctx context.Context, fn func(Batch)) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) Subscription

	// AcquireLock attempts to take the named lock for ttl. A zero
	// blockFor makes the attempt non-blocking: (nil, nil) means the
	// lock is held elsewhere.
	AcquireLock(ctx context.Context, key string, ttl, blockFor time.Duration) (*Lock, error)

	Ping(ctx context.Context) error
	Close() error
}

// Redis implements Store over a go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis dials the keyed store described by cfg.
func NewRedis(cfg Config) (*Redis, error) {
	var opts, err = redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing keyed store URL: %w", err)
	}
	opts.DialTimeout = cfg.OpTimeout
	opts.ReadTimeout = cfg.OpTimeout
	opts.WriteTimeout = cfg.OpTimeout
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisClient wraps an existing client (used by tests).
func NewRedisClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	var val, err = s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("GET %s: %w", key, err)
	}
	return val, nil
}

func (s *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("SET %s: %w", key, err)
	}
	return nil
}

func (s *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var won, err = s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("SETNX %s: %w", key, err)
	}
	return won, nil
}

func (s *Redis) Del(ctx context.Context, keys ...string) error {
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("DEL %v: %w", keys, err)
	}
	return nil
}

func (s *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var vals, err = s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("LRANGE %s: %w", key, err)
	}
	return vals, nil
}

func (s *Redis) RPush(ctx context.Context, key string, values ...string) error {
	var args = make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.client.RPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("RPUSH %s: %w", key, err)
	}
	return nil
}

func (s *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	var args = make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("HSET %s: %w", key, err)
	}
	return nil
}

func (s *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields, err = s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("HGETALL %s: %w", key, err)
	}
	return fields, nil
}

func (s *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	var args = make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("SADD %s: %w", key, err)
	}
	return nil
}

func (s *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	var members, err = s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("SMEMBERS %s: %w", key, err)
	}
	return members, nil
}

// redisBatch stages Batch mutations onto a transactional pipeline.
type redisBatch struct{ pipe redis.Pipeliner }

func (b redisBatch) Del(keys ...string) { b.pipe.Del(context.Background(), keys...) }

func (b redisBatch) RPush(key string, values ...string) {
	var args = make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	b.pipe.RPush(context.Background(), key, args...)
}

func (b redisBatch) Expire(key string, ttl time.Duration) {
	b.pipe.Expire(context.Background(), key, ttl)
}

func (b redisBatch) HSet(key string, fields map[string]string) {
	var args = make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	b.pipe.HSet(context.Background(), key, args...)
}

func (b redisBatch) SAdd(key string, members ...string) {
	var args = make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	b.pipe.SAdd(context.Background(), key, args...)
}

func (s *Redis) Update(ctx context.Context, fn func(Batch)) error {
	var pipe = s.client.TxPipeline()
	fn(redisBatch{pipe: pipe})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("executing pipeline: %w", err)
	}
	return nil
}

func (s *Redis) Publish(ctx context.Context, channel, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("PUBLISH %s: %w", channel, err)
	}
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

func (s *redisSubscription) Channel() <-chan Message { return s.ch }
func (s *redisSubscription) Close() error            { return s.pubsub.Close() }

func (s *Redis) Subscribe(ctx context.Context, channels ...string) Subscription {
	var pubsub = s.client.Subscribe(ctx, channels...)
	var sub = &redisSubscription{pubsub: pubsub, ch: make(chan Message)}

	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			select {
			case sub.ch <- Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub
}

func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging keyed store: %w", err)
	}
	return nil
}

func (s *Redis) Close() error { return s.client.Close() }
