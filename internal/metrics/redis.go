package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

const (
	redisKeyPrefix  = "oee:latest:"
	DefaultCacheTTL = 15 * time.Minute
)

// RedisCache shares the latest results between engine instances and
// dashboards through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisCache(opts RedisOptions) *RedisCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &RedisCache{client: client, ttl: opts.TTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.New().Wrap(errors.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Put(ctx context.Context, r Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+r.Device, payload, c.ttl).Err(); err != nil {
		return errors.New().Wrap(errors.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, device string) (*Result, error) {
	payload, err := c.client.Get(ctx, redisKeyPrefix+device).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.New().WithData(errors.ErrDeviceNotFound, device)
	}
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCacheUnavailable, err)
	}

	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, errors.New().Wrap(errors.ErrCacheUnavailable, err)
	}
	return &r, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
