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
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Store is the raw key/value layer under the cache-aside strategies.
// Values are opaque strings; the empty string is a valid value.
type Store interface {
	// Set stores value under key. A non-positive ttl stores the value without expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// RedisStore implements Store on go-redis/cache. Strings are written to redis
// as is, so entries stay readable by other clients.
//
// The optional local tier is node-local: a write or delete on one node drops
// only that node's copy, so other nodes may serve a replaced entry for up to
// localCacheTTL. Writes without expiry go to redis directly and empty markers
// are never kept locally.
type RedisStore struct {
	client redis.UniversalClient
	cache  *cache.Cache
	local  bool
}

// localCacheTTL bounds how long an entry may be served from process memory.
const localCacheTTL = time.Minute

// minCacheTTL is the shortest ttl go-redis/cache accepts; shorter ones are
// written to redis directly.
const minCacheTTL = time.Second

// NewRedisStore creates a store backed by client. When localSize is positive
// a TinyLFU in-process tier of that many entries sits in front of redis.
func NewRedisStore(client redis.UniversalClient, localSize int) *RedisStore {
	opts := &cache.Options{Redis: client}
	if localSize > 0 {
		opts.LocalCache = cache.NewTinyLFU(localSize, localCacheTTL)
	}
	return &RedisStore{client: client, cache: cache.New(opts), local: localSize > 0}
}

func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if r.local {
		r.cache.DeleteFromLocalCache(key)
	}
	if ttl < minCacheTTL {
		if ttl < 0 {
			ttl = 0
		}
		return r.client.Set(ctx, key, value, ttl).Err()
	}
	return r.cache.Set(&cache.Item{
		Ctx:            ctx,
		Key:            key,
		Value:          value,
		TTL:            ttl,
		SkipLocalCache: value == "",
	})
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.cache.Get(ctx, key, &value)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if value == "" && r.local {
		r.cache.DeleteFromLocalCache(key)
	}
	return value, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if r.local {
		r.cache.DeleteFromLocalCache(key)
	}
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
