package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wildid/internal/models"
)

// casScript implements CompareAndSwap server-side so that concurrent writers
// across processes cannot interleave. ARGV[1] is "1" when the caller asserts
// the key is absent, ARGV[2] the expected value, ARGV[3] the next value and
// ARGV[4] the TTL in milliseconds (0 = no expiry).
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
	if cur then return 'conflict' end
else
	if not cur then return 'notfound' end
	if cur ~= ARGV[2] then return 'conflict' end
end
if tonumber(ARGV[4]) > 0 then
	redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[4])
else
	redis.call('SET', KEYS[1], ARGV[3])
end
return 'ok'
`)

// RedisStore is a Store backed by a shared redis instance. It is the required
// backend for multi-process deployments: trust promotion and challenge
// attempt counters stay consistent across replicas because all
// read-modify-write cycles go through the CAS script.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis and verifies the connection with a ping.
func NewRedisStore(cfg models.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get returns the value for key, or ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key, replacing any existing value.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap runs the CAS script. See the Store contract.
func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) error {
	absent := "0"
	if expected == nil {
		absent = "1"
	}

	res, err := casScript.Run(ctx, r.client, []string{key},
		absent, string(expected), string(next), ttl.Milliseconds()).Text()
	if err != nil {
		return fmt.Errorf("redis cas %s: %w", key, err)
	}

	switch res {
	case "ok":
		return nil
	case "notfound":
		return ErrNotFound
	case "conflict":
		return ErrConflict
	default:
		return fmt.Errorf("redis cas %s: unexpected result %q", key, res)
	}
}

// Close releases the client's connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
