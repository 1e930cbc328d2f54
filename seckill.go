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

package seckill

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/flashmart/seckill/config"
	"github.com/flashmart/seckill/database"
	"github.com/flashmart/seckill/internal/admission"
	"github.com/flashmart/seckill/internal/cache"
	"github.com/flashmart/seckill/internal/idgen"
	redis_db "github.com/flashmart/seckill/internal/redis-db"
	"github.com/flashmart/seckill/internal/stream"
	"github.com/flashmart/seckill/internal/workerpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

const (
	// OrderIDNamespace is the id generator namespace of order ids.
	OrderIDNamespace = "order"
	// VoucherCachePrefix keys the mutex-rebuilt voucher entries served to admin reads.
	VoucherCachePrefix = "cache:voucher:"
	// SeckillVoucherCachePrefix keys the logically expiring voucher entries read on the seckill path.
	SeckillVoucherCachePrefix = "cache:seckill:voucher:"
	// OrderCachePrefix keys order entries; unknown order ids are negatively cached.
	OrderCachePrefix = "cache:order:"
	// OrderLockPrefix keys the per-user persistence lock.
	OrderLockPrefix = "lock:order:"
)

var tracer = otel.Tracer("Seckill")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Seckill wires the admission pipeline together: the id generator, the
// admission script, the order stream, the persistence guard and the voucher
// cache.
type Seckill struct {
	config     *config.Configuration
	datasource database.IDataSource
	redis      redis.UniversalClient
	ids        *idgen.Worker
	admission  *admission.Script
	orders     *stream.Queue
	cache      *cache.Client
	rebuilds   *workerpool.Pool
	queue      *Queue
	now        func() time.Time
}

type Option func(*Seckill)

// WithClock replaces the clock used for sale windows and order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Seckill) { s.now = now }
}

// WithTaskQueue replaces the asynq queue used for preheat and webhook tasks.
func WithTaskQueue(q *Queue) Option {
	return func(s *Seckill) { s.queue = q }
}

// WithIDWorker replaces the order id generator.
func WithIDWorker(w *idgen.Worker) Option {
	return func(s *Seckill) { s.ids = w }
}

// NewSeckill connects to redis using the loaded configuration and builds the
// service around db.
func NewSeckill(db database.IDataSource) (*Seckill, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := admission.CheckClient(redisClient.Client()); err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	queue, err := NewQueue(conf)
	if err != nil {
		return nil, err
	}
	return New(conf, db, redisClient.Client(), WithTaskQueue(queue)), nil
}

// New builds the service from already connected dependencies. The rebuild
// pool is started; Close stops it.
func New(conf *config.Configuration, db database.IDataSource, rdb redis.UniversalClient, opts ...Option) *Seckill {
	pool := workerpool.New(conf.Cache.RebuildWorkers, conf.Cache.RebuildQueue)

	s := &Seckill{
		config:     conf,
		datasource: db,
		redis:      rdb,
		ids:        idgen.New(rdb),
		admission:  admission.New(rdb, conf.Queue.OrderStream),
		orders:     stream.NewQueue(rdb, conf.Queue.OrderStream, conf.Queue.ConsumerGroup),
		rebuilds:   pool,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cache = cache.NewClient(
		cache.NewRedisStore(rdb, conf.Cache.LocalSize),
		rdb,
		pool,
		cache.WithNullTTL(conf.Cache.NullTTL),
		cache.WithLockTTL(conf.Cache.RebuildLockTTL),
		cache.WithRetry(50*time.Millisecond, 500*time.Millisecond, conf.Cache.RetryAttempts),
		cache.WithClock(s.now),
	)
	pool.Start()
	return s
}

// LoadScripts registers the admission script with redis so the first
// admission does not pay for the upload.
func (s *Seckill) LoadScripts(ctx context.Context) error {
	return s.admission.Load(ctx)
}

// Datasource returns the durable store.
func (s *Seckill) Datasource() database.IDataSource {
	return s.datasource
}

// Orders returns the order stream.
func (s *Seckill) Orders() *stream.Queue {
	return s.orders
}

// PendingOrders returns how many order intents were delivered but not acked.
func (s *Seckill) PendingOrders(ctx context.Context) (int64, error) {
	if err := s.orders.EnsureGroup(ctx); err != nil {
		return 0, err
	}
	return s.orders.PendingCount(ctx)
}

// Close stops the rebuild pool after queued rebuilds finish and closes the
// task queue.
func (s *Seckill) Close() error {
	s.rebuilds.Stop()
	if s.queue != nil {
		return s.queue.Close()
	}
	return nil
}
