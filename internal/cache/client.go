/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	redlock "github.com/flashmart/seckill/internal/lock"
	"github.com/flashmart/seckill/internal/workerpool"
	"github.com/flashmart/seckill/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrRebuildBusy is returned by QueryWithMutex when another caller kept the
// rebuild lock for longer than the retry budget.
var ErrRebuildBusy = errors.New("cache rebuild in progress, retry budget exhausted")

var errLockContended = errors.New("rebuild lock contended")

// nullValue marks an id the durable store does not know about.
const nullValue = ""

// Fallback loads a value from the durable store. It returns nil, nil when the
// id does not exist.
type Fallback[T any, ID any] func(ctx context.Context, id ID) (*T, error)

// LogicalEntry wraps a value cached without a store-managed expiry.
type LogicalEntry struct {
	ExpireTime time.Time       `json:"expireTime"`
	Data       json.RawMessage `json:"data"`
}

// Client implements the cache-aside strategies on top of a Store. Rebuild
// locks live in redis next to the cache entries; asynchronous rebuilds run on
// the injected pool.
type Client struct {
	store Store
	redis redis.UniversalClient
	pool  *workerpool.Pool

	nullTTL       time.Duration
	lockTTL       time.Duration
	retryInitial  time.Duration
	retryMax      time.Duration
	retryAttempts uint64
	now           func() time.Time
}

type Option func(*Client)

// WithNullTTL sets how long a not-found marker is kept.
func WithNullTTL(ttl time.Duration) Option {
	return func(c *Client) { c.nullTTL = ttl }
}

// WithLockTTL sets the lease of the rebuild lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Client) { c.lockTTL = ttl }
}

// WithRetry bounds the wait loop of QueryWithMutex.
func WithRetry(initial, max time.Duration, attempts uint64) Option {
	return func(c *Client) {
		c.retryInitial = initial
		c.retryMax = max
		c.retryAttempts = attempts
	}
}

// WithClock replaces the clock used for logical expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(store Store, rdb redis.UniversalClient, pool *workerpool.Pool, opts ...Option) *Client {
	c := &Client{
		store:         store,
		redis:         rdb,
		pool:          pool,
		nullTTL:       2 * time.Minute,
		lockTTL:       10 * time.Second,
		retryInitial:  50 * time.Millisecond,
		retryMax:      500 * time.Millisecond,
		retryAttempts: 20,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for id under prefix.
func Key[ID any](prefix string, id ID) string {
	return prefix + fmt.Sprint(id)
}

// LockKey builds the rebuild lock key guarding the cache key for id.
func LockKey[ID any](prefix string, id ID) string {
	return "lock:" + Key(prefix, id)
}

// Set caches value as JSON under key for ttl.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, string(b), ttl)
}

// SetWithLogicalExpire caches value under key with no store-managed expiry.
// The entry carries its own expiry of now+ttl.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b, err := json.Marshal(LogicalEntry{ExpireTime: c.now().Add(ttl), Data: data})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, string(b), -1)
}

// Delete drops key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Client) setNull(ctx context.Context, key string) {
	if err := c.store.Set(ctx, key, nullValue, c.nullTTL); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("failed to cache not-found marker")
	}
}

func (c *Client) newLocker(lockKey string) *redlock.Locker {
	return redlock.NewLocker(c.redis, lockKey, model.GenerateUUIDWithSuffix("cache"))
}

func decode[T any](raw string) (*T, error) {
	if raw == nullValue || raw == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// QueryWithPassThrough reads id through the cache. A durable-store miss is
// remembered for the null TTL so repeated lookups for unknown ids stop at the
// cache. A nil result with a nil error means not found.
func QueryWithPassThrough[T any, ID any](ctx context.Context, c *Client, prefix string, id ID, fallback Fallback[T, ID], ttl time.Duration) (*T, error) {
	key := Key(prefix, id)

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return decode[T](raw)
	}

	value, err := fallback(ctx, id)
	if err != nil {
		return nil, err
	}
	if value == nil {
		c.setNull(ctx, key)
		return nil, nil
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("failed to cache value")
	}
	return value, nil
}

// QueryWithMutex reads id through the cache. On a miss only the holder of the
// rebuild lock loads from the durable store; everyone else backs off and reads
// again, up to the configured number of attempts.
func QueryWithMutex[T any, ID any](ctx context.Context, c *Client, prefix string, id ID, fallback Fallback[T, ID], ttl time.Duration) (*T, error) {
	key := Key(prefix, id)
	lockKey := LockKey(prefix, id)

	var result *T
	op := func() error {
		raw, found, err := c.store.Get(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if found {
			if result, err = decode[T](raw); err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}

		locker := c.newLocker(lockKey)
		if err := locker.Lock(ctx, c.lockTTL); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return errLockContended
			}
			return backoff.Permanent(err)
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithField("key", lockKey).WithError(err).Warn("failed to release rebuild lock")
			}
		}()

		// another holder may have rebuilt the entry before we got the lock
		raw, found, err = c.store.Get(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		if found {
			if result, err = decode[T](raw); err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}

		value, err := fallback(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if value == nil {
			c.setNull(ctx, key)
			result = nil
			return nil
		}
		if err := c.Set(ctx, key, value, ttl); err != nil {
			logrus.WithField("key", key).WithError(err).Warn("failed to cache rebuilt value")
		}
		result = value
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		if errors.Is(err, errLockContended) {
			return nil, ErrRebuildBusy
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retryAttempts), ctx)
}

// QueryWithLogicalExpire reads id from an entry that never expires in the
// store. A fresh entry is returned as is. An expired entry is returned as is
// too, after handing a rebuild to the worker pool if this caller won the
// rebuild lock. With no entry at all the value is loaded and the entry seeded.
func QueryWithLogicalExpire[T any, ID any](ctx context.Context, c *Client, prefix string, id ID, fallback Fallback[T, ID], ttl time.Duration) (*T, error) {
	key := Key(prefix, id)

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || raw == nullValue {
		return loadAndSeed(ctx, c, key, id, fallback, ttl)
	}

	var entry LogicalEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("unreadable logical cache entry, reloading")
		return loadAndSeed(ctx, c, key, id, fallback, ttl)
	}
	value, err := decode[T](string(entry.Data))
	if err != nil {
		return nil, err
	}

	if c.now().Before(entry.ExpireTime) {
		return value, nil
	}

	c.scheduleRebuild(ctx, LockKey(prefix, id), func(rctx context.Context) {
		// skip if a previous rebuild already refreshed the entry
		if raw, found, err := c.store.Get(rctx, key); err == nil && found {
			var current LogicalEntry
			if json.Unmarshal([]byte(raw), &current) == nil && c.now().Before(current.ExpireTime) {
				return
			}
		}
		if _, err := loadAndSeed(rctx, c, key, id, fallback, ttl); err != nil {
			logrus.WithField("key", key).WithError(err).Error("cache rebuild failed")
		}
	})

	return value, nil
}

func loadAndSeed[T any, ID any](ctx context.Context, c *Client, key string, id ID, fallback Fallback[T, ID], ttl time.Duration) (*T, error) {
	value, err := fallback(ctx, id)
	if err != nil {
		return nil, err
	}

	expire := ttl
	if value == nil {
		expire = c.nullTTL
	}
	if err := c.SetWithLogicalExpire(ctx, key, value, expire); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("failed to seed logical cache entry")
	}
	return value, nil
}

// scheduleRebuild takes the rebuild lock and submits rebuild to the pool. The
// job releases the lock. Losing the lock race or a full pool skips the rebuild.
func (c *Client) scheduleRebuild(ctx context.Context, lockKey string, rebuild func(ctx context.Context)) {
	if c.pool == nil {
		return
	}
	locker := c.newLocker(lockKey)
	if err := locker.Lock(ctx, c.lockTTL); err != nil {
		if !errors.Is(err, redlock.ErrLockHeld) {
			logrus.WithField("key", lockKey).WithError(err).Warn("failed to take rebuild lock")
		}
		return
	}

	submitted := c.pool.Submit(func() {
		rctx, cancel := context.WithTimeout(context.Background(), c.lockTTL)
		defer cancel()
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithField("key", lockKey).WithError(err).Warn("failed to release rebuild lock")
			}
		}()
		rebuild(rctx)
	})
	if !submitted {
		logrus.WithField("key", lockKey).Warn("rebuild pool unavailable, serving stale value")
		if err := locker.Unlock(ctx); err != nil {
			logrus.WithField("key", lockKey).WithError(err).Warn("failed to release rebuild lock")
		}
	}
}
