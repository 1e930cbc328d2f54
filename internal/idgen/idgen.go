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

package idgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultEpoch is 2022-01-01T00:00:00Z in unix seconds.
const DefaultEpoch int64 = 1640995200

const (
	countBits = 32
	keyPrefix = "icr:"
)

// Worker hands out ids that are unique across processes sharing one redis.
// The high bits hold seconds since the epoch and the low 32 bits hold a
// per-day counter for the namespace.
type Worker struct {
	client redis.UniversalClient
	epoch  int64
	now    func() time.Time
}

type Option func(*Worker)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithEpoch replaces DefaultEpoch.
func WithEpoch(epoch int64) Option {
	return func(w *Worker) {
		w.epoch = epoch
	}
}

func New(client redis.UniversalClient, opts ...Option) *Worker {
	w := &Worker{
		client: client,
		epoch:  DefaultEpoch,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CounterKey returns the counter key for namespace on the UTC day of t.
func CounterKey(namespace string, t time.Time) string {
	return keyPrefix + namespace + ":" + t.UTC().Format("20060102")
}

// NextID returns the next id for namespace. Ids are strictly increasing per
// namespace within a day while the clock moves forward.
func (w *Worker) NextID(ctx context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, errors.New("id namespace cannot be empty")
	}

	now := w.now().UTC()
	elapsed := now.Unix() - w.epoch
	if elapsed < 0 {
		return 0, fmt.Errorf("clock %s is before the id epoch", now.Format(time.RFC3339))
	}

	seq, err := w.client.Incr(ctx, CounterKey(namespace, now)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment id counter for %s: %w", namespace, err)
	}

	return elapsed<<countBits | seq, nil
}

// Timestamp recovers the issue time encoded in id.
func (w *Worker) Timestamp(id int64) time.Time {
	return time.Unix((id>>countBits)+w.epoch, 0).UTC()
}
