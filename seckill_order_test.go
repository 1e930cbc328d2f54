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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/internal/cache"
	"github.com/flashmart/seckill/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeckillVoucher_Accepted(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := seedVoucher(t, s, store, 2)
	ctx := context.Background()

	orderID, err := s.SeckillVoucher(ctx, v.VoucherID, 100)
	require.NoError(t, err)
	assert.Positive(t, orderID)

	stock, err := s.AdmissionStock(ctx, v.VoucherID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stock)

	entries, err := s.redis.XRange(ctx, s.orders.Stream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	intent, err := model.IntentFromValues(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, model.OrderIntent{UserID: 100, VoucherID: v.VoucherID, OrderID: orderID}, intent)
}

func TestSeckillVoucher_PreheatedVoucherServedFromCache(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := seedVoucher(t, s, store, 10)
	ctx := context.Background()

	require.NoError(t, s.PreheatVoucher(ctx, v.VoucherID))
	before, _ := store.reads()

	for user := int64(1); user <= 5; user++ {
		_, err := s.SeckillVoucher(ctx, v.VoucherID, user)
		require.NoError(t, err)
	}

	after, _ := store.reads()
	assert.Equal(t, before, after, "admissions read the voucher from the cache")
}

func TestSeckillVoucher_DuplicatePurchase(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := seedVoucher(t, s, store, 5)
	ctx := context.Background()

	_, err := s.SeckillVoucher(ctx, v.VoucherID, 7)
	require.NoError(t, err)

	_, err = s.SeckillVoucher(ctx, v.VoucherID, 7)
	assert.ErrorIs(t, err, ErrDuplicatePurchase)
	assert.Equal(t, 409, apierror.MapErrorToHTTPStatus(err))

	stock, err := s.AdmissionStock(ctx, v.VoucherID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stock)
}

func TestSeckillVoucher_LastUnitGoesToOneUser(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := seedVoucher(t, s, store, 1)

	var accepted, outOfStock atomic.Int32
	var wg sync.WaitGroup
	for _, user := range []int64{1, 2} {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := s.SeckillVoucher(context.Background(), v.VoucherID, user)
			switch {
			case err == nil:
				accepted.Add(1)
			case assert.ErrorIs(t, err, ErrOutOfStock):
				outOfStock.Add(1)
			}
		}(user)
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), outOfStock.Load())
}

func TestSeckillVoucher_NeverOversells(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := seedVoucher(t, s, store, 10)

	ids := make(chan int64, 100)
	var wg sync.WaitGroup
	for user := int64(1); user <= 100; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			if id, err := s.SeckillVoucher(context.Background(), v.VoucherID, user); err == nil {
				ids <- id
			}
		}(user)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "order id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 10)

	stock, err := s.AdmissionStock(context.Background(), v.VoucherID)
	require.NoError(t, err)
	assert.Zero(t, stock)
}

func TestSeckillVoucher_SaleWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	s, _ := newTestSeckill(t, store, WithClock(func() time.Time { return now }))

	upcoming := store.put(&model.Voucher{Title: "upcoming", Stock: 1, BeginTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)})
	finished := store.put(&model.Voucher{Title: "finished", Stock: 1, BeginTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)})
	ctx := context.Background()
	require.NoError(t, s.admission.Seed(ctx, upcoming.VoucherID, 1))
	require.NoError(t, s.admission.Seed(ctx, finished.VoucherID, 1))

	_, err := s.SeckillVoucher(ctx, upcoming.VoucherID, 1)
	assert.ErrorIs(t, err, ErrSeckillNotStarted)

	_, err = s.SeckillVoucher(ctx, finished.VoucherID, 1)
	assert.ErrorIs(t, err, ErrSeckillEnded)

	for _, id := range []int64{upcoming.VoucherID, finished.VoucherID} {
		stock, err := s.AdmissionStock(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stock)
	}
}

func TestSeckillVoucher_UnknownVoucherIsNegativelyCached(t *testing.T) {
	store := newMemStore()
	s, mr := newTestSeckill(t, store)
	ctx := context.Background()

	_, err := s.SeckillVoucher(ctx, 404, 1)
	assert.ErrorIs(t, err, ErrVoucherNotFound)
	_, err = s.SeckillVoucher(ctx, 404, 1)
	assert.ErrorIs(t, err, ErrVoucherNotFound)

	reads, _ := store.reads()
	assert.Equal(t, 1, reads)
	assert.True(t, mr.Exists(cache.Key(SeckillVoucherCachePrefix, int64(404))))
}

func TestSeckillVoucher_RequiresUser(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := seedVoucher(t, s, store, 1)

	_, err := s.SeckillVoucher(context.Background(), v.VoucherID, 0)
	assert.Equal(t, 401, apierror.MapErrorToHTTPStatus(err))
}

func TestSeckillVoucher_ServesStaleVoucherWhileRebuilding(t *testing.T) {
	var clock atomic.Int64
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock.Store(start.UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	store := newMemStore()
	s, _ := newTestSeckill(t, store, WithClock(now))
	v := seedVoucher(t, s, store, 3)
	ctx := context.Background()

	require.NoError(t, s.PreheatVoucher(ctx, v.VoucherID))
	clock.Store(start.Add(time.Hour).UnixNano())

	_, err := s.SeckillVoucher(ctx, v.VoucherID, 1)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		reads, _ := store.reads()
		return reads == 2
	}, time.Second, 10*time.Millisecond)
}
