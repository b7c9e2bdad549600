package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the shared state the server keeps outside process memory:
// artifact payloads, last-seen job statuses and rate-limit counters.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, jobID string, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID string) (JobStatus, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

var _ Cache = (*RedisCache)(nil)

// JobStatus is the last status any view observed for a job.
type JobStatus struct {
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

const (
	fieldStatus     = "status"
	fieldObservedAt = "observed_at"
)

// RedisCache implements Cache on a single go-redis client.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisCache parses a redis:// or rediss:// URL. No connection is made
// until the first command; call Ping to verify reachability.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = "maskview"
	}
	return &RedisCache{client: redis.NewClient(opts), now: time.Now}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get reports found=false for a missing or expired key; err is reserved for
// transport failures.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetJobStatus records status with the time it was observed. The whole entry
// expires after ttl.
func (c *RedisCache) SetJobStatus(ctx context.Context, jobID string, status string, ttl time.Duration) error {
	key := JobStatusKey(jobID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldStatus, status,
			fieldObservedAt, c.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID string) (JobStatus, bool, error) {
	fields, err := c.client.HGetAll(ctx, JobStatusKey(jobID)).Result()
	if err != nil {
		return JobStatus{}, false, err
	}
	status, ok := fields[fieldStatus]
	if !ok {
		return JobStatus{}, false, nil
	}

	entry := JobStatus{Status: status}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldObservedAt]); err == nil {
		entry.ObservedAt = ts
	}
	return entry, true, nil
}

// IncrWithExpiry increments key and starts its expiry on first use only, so
// later increments never extend the window.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, expiry)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
