package authcache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/go-oidfed/frontdoor/middleware/basicauth"
)

const redisTimeout = 2 * time.Second

// RedisBackend is a Backend storing msgpack encoded principals in redis
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redis and returns a RedisBackend
func NewRedisBackend(options *redis.Options) (*RedisBackend, error) {
	client := redis.NewClient(options)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis connection failed")
	}
	return &RedisBackend{client: client}, nil
}

// Get implements the Backend interface
func (r *RedisBackend) Get(ctx context.Context, key string) (*basicauth.Principal, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	var p basicauth.Principal
	if err = msgpack.Unmarshal(data, &p); err != nil {
		return nil, false, errors.WithStack(err)
	}
	return &p, true, nil
}

// Set implements the Backend interface
func (r *RedisBackend) Set(ctx context.Context, key string, p *basicauth.Principal, ttl time.Duration) error {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return errors.WithStack(err)
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return errors.WithStack(r.client.Set(ctx, key, data, ttl).Err())
}

// DeletePrefix implements the Backend interface
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.WithStack(err)
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.WithStack(r.client.Del(ctx, keys...).Err())
}

// Close implements the Backend interface
func (r *RedisBackend) Close() error {
	return errors.WithStack(r.client.Close())
}
