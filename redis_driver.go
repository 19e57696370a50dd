package rq

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

var _ Driver = (*RedisDriver)(nil)

// RedisDriver implements Driver on a redis client. Standalone, sentinel and cluster clients all work, but in
// a cluster the three keys of a queue must live in the same slot for Transfer to succeed.
type RedisDriver struct {
	Logger      log.Logger
	RedisClient redis.UniversalClient
}

// NewRedisDriver creates a RedisDriver.
func NewRedisDriver(client redis.UniversalClient, logger log.Logger) *RedisDriver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RedisDriver{Logger: logger, RedisClient: client}
}

// Push implements Driver with LPUSH.
func (r *RedisDriver) Push(ctx context.Context, list string, value []byte) error {
	if err := r.RedisClient.LPush(ctx, list, value).Err(); err != nil {
		return errors.Wrapf(err, "lpush %s", list)
	}
	return nil
}

// Transfer implements Driver with RPOPLPUSH, or BRPOPLPUSH when timeout is positive.
func (r *RedisDriver) Transfer(ctx context.Context, src, dst string, timeout time.Duration) ([]byte, error) {
	var cmd *redis.StringCmd
	if timeout > 0 {
		cmd = r.RedisClient.BRPopLPush(ctx, src, dst, timeout)
	} else {
		cmd = r.RedisClient.RPopLPush(ctx, src, dst)
	}
	b, err := cmd.Bytes()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrapf(err, "rpoplpush %s %s", src, dst)
	}
	return b, nil
}

// Remove implements Driver with LREM count 0.
func (r *RedisDriver) Remove(ctx context.Context, list string, value []byte) (int64, error) {
	n, err := r.RedisClient.LRem(ctx, list, 0, value).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "lrem %s", list)
	}
	if n == 0 {
		_ = level.Debug(r.Logger).Log("msg", "lrem removed nothing", "list", list)
	}
	return n, nil
}

// Range implements Driver with LRANGE.
func (r *RedisDriver) Range(ctx context.Context, list string, start, stop int64) ([][]byte, error) {
	values, err := r.RedisClient.LRange(ctx, list, start, stop).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "lrange %s", list)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

// Len implements Driver with LLEN.
func (r *RedisDriver) Len(ctx context.Context, list string) (int64, error) {
	n, err := r.RedisClient.LLen(ctx, list).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "llen %s", list)
	}
	return n, nil
}

// HashSet implements Driver with HSET.
func (r *RedisDriver) HashSet(ctx context.Context, hash, field string, value []byte) error {
	if err := r.RedisClient.HSet(ctx, hash, field, value).Err(); err != nil {
		return errors.Wrapf(err, "hset %s %s", hash, field)
	}
	return nil
}

// HashSetNX implements Driver with HSETNX.
func (r *RedisDriver) HashSetNX(ctx context.Context, hash, field string, value []byte) (bool, error) {
	ok, err := r.RedisClient.HSetNX(ctx, hash, field, value).Result()
	if err != nil {
		return false, errors.Wrapf(err, "hsetnx %s %s", hash, field)
	}
	return ok, nil
}

// HashGet implements Driver with HGET.
func (r *RedisDriver) HashGet(ctx context.Context, hash, field string) ([]byte, error) {
	b, err := r.RedisClient.HGet(ctx, hash, field).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "hget %s %s", hash, field)
	}
	return b, nil
}

// HashDel implements Driver with HDEL.
func (r *RedisDriver) HashDel(ctx context.Context, hash, field string) error {
	if err := r.RedisClient.HDel(ctx, hash, field).Err(); err != nil {
		return errors.Wrapf(err, "hdel %s %s", hash, field)
	}
	return nil
}

// HashLen implements Driver with HLEN.
func (r *RedisDriver) HashLen(ctx context.Context, hash string) (int64, error) {
	n, err := r.RedisClient.HLen(ctx, hash).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "hlen %s", hash)
	}
	return n, nil
}

// Del implements Driver with DEL.
func (r *RedisDriver) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.RedisClient.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrapf(err, "del %v", keys)
	}
	return nil
}
