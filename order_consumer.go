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
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flashmart/seckill/internal/stream"
	"github.com/sirupsen/logrus"
)

const claimBatchSize = 100

// OrderConsumer reads order intents from the stream under a consumer group
// and persists them. Intents are acknowledged only after they are handled, so
// a crash leaves them in the pending set for the next run.
type OrderConsumer struct {
	seckill       *Seckill
	orders        *stream.Queue
	name          string
	block         time.Duration
	retryDelay    time.Duration
	claimInterval time.Duration
	claimMinIdle  time.Duration

	dirty   atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

type ConsumerOption func(*OrderConsumer)

func WithConsumerName(name string) ConsumerOption {
	return func(c *OrderConsumer) { c.name = name }
}

// WithBlockTimeout bounds how long one read waits for a new intent.
func WithBlockTimeout(d time.Duration) ConsumerOption {
	return func(c *OrderConsumer) { c.block = d }
}

// WithRetryDelay sets the pause between failed attempts on the pending set.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *OrderConsumer) { c.retryDelay = d }
}

// WithClaimInterval sets how often intents idle for longer than minIdle in
// other consumers' pending sets are claimed. A non-positive interval disables
// claiming.
func WithClaimInterval(interval, minIdle time.Duration) ConsumerOption {
	return func(c *OrderConsumer) {
		c.claimInterval = interval
		c.claimMinIdle = minIdle
	}
}

// NewOrderConsumer builds a consumer configured from the queue settings.
func (s *Seckill) NewOrderConsumer(opts ...ConsumerOption) *OrderConsumer {
	conf := s.config.Queue
	c := &OrderConsumer{
		seckill:       s,
		orders:        s.orders,
		name:          conf.ConsumerName,
		block:         conf.BlockTimeout,
		retryDelay:    conf.RetryDelay,
		claimInterval: conf.ClaimInterval,
		claimMinIdle:  conf.ClaimMinIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name is the consumer name within the group.
func (c *OrderConsumer) Name() string {
	return c.name
}

// Start creates the consumer group if needed and starts the read loop. It
// returns once the loop is running.
func (c *OrderConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if err := c.orders.EnsureGroup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()

	logrus.WithField("consumer", c.name).Info("order consumer started")
	return nil
}

// Stop ends the read loop and waits for the intent in hand to finish.
func (c *OrderConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	logrus.WithField("consumer", c.name).Info("order consumer stopped")
}

func (c *OrderConsumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *OrderConsumer) run(ctx context.Context) {
	if c.claimInterval > 0 {
		c.claimStale(ctx)
	}
	c.dirty.Store(false)
	c.handlePendingList(ctx)

	var claims <-chan time.Time
	if c.claimInterval > 0 {
		ticker := time.NewTicker(c.claimInterval)
		defer ticker.Stop()
		claims = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-claims:
			c.claimStale(ctx)
		default:
		}

		if c.dirty.Swap(false) {
			c.handlePendingList(ctx)
		}

		messages, err := c.orders.ReadNew(ctx, c.name, 1, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithField("consumer", c.name).WithError(err).Error("failed to read order stream")
			c.handlePendingList(ctx)
			continue
		}

		for _, msg := range messages {
			if err := c.handle(ctx, msg); err != nil {
				logrus.WithFields(logrus.Fields{"consumer": c.name, "entry": msg.ID}).WithError(err).Error("failed to handle order intent")
				c.handlePendingList(ctx)
			}
		}
	}
}

// handlePendingList reprocesses this consumer's pending set from its start
// until it is empty, pausing between failed attempts.
func (c *OrderConsumer) handlePendingList(ctx context.Context) {
	for ctx.Err() == nil {
		messages, err := c.orders.ReadPending(ctx, c.name, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithField("consumer", c.name).WithError(err).Error("failed to read pending order intents")
			if isNoGroup(err) {
				if err := c.orders.EnsureGroup(ctx); err != nil {
					logrus.WithError(err).Error("failed to recreate consumer group")
				}
			}
			if !sleepContext(ctx, c.retryDelay) {
				return
			}
			continue
		}
		if len(messages) == 0 {
			return
		}

		for _, msg := range messages {
			if err := c.handle(ctx, msg); err != nil {
				logrus.WithFields(logrus.Fields{"consumer": c.name, "entry": msg.ID}).WithError(err).Warn("pending order intent failed, retrying")
				if !sleepContext(ctx, c.retryDelay) {
					return
				}
			}
		}
	}
}

func (c *OrderConsumer) handle(ctx context.Context, msg stream.Message) error {
	if msg.Err != nil {
		logrus.WithField("entry", msg.ID).WithError(msg.Err).Warn("dropping malformed order intent")
		return c.orders.Ack(ctx, msg.ID)
	}

	outcome, err := c.seckill.CreateVoucherOrder(ctx, msg.Intent)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"consumer": c.name,
		"order_id": msg.Intent.OrderID,
		"outcome":  outcome.String(),
	}).Debug("order intent handled")
	return c.orders.Ack(ctx, msg.ID)
}

func (c *OrderConsumer) claimStale(ctx context.Context) {
	claimed, err := c.orders.ClaimStale(ctx, c.name, c.claimMinIdle, claimBatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logrus.WithField("consumer", c.name).WithError(err).Warn("failed to claim stale order intents")
		}
		return
	}
	if claimed > 0 {
		logrus.WithFields(logrus.Fields{"consumer": c.name, "claimed": claimed}).Info("claimed stale order intents")
		c.dirty.Store(true)
	}
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
