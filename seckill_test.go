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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/flashmart/seckill/config"
	"github.com/flashmart/seckill/database"
	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "seckill-test",
		Queue: config.QueueConfig{
			OrderStream:   "stream.orders",
			ConsumerGroup: "g1",
			ConsumerName:  "c1",
			Consumers:     1,
			BlockTimeout:  50 * time.Millisecond,
			RetryDelay:    10 * time.Millisecond,
			ClaimMinIdle:  time.Minute,
			PreheatQueue:  "voucher_preheat",
			PreheatLead:   5 * time.Minute,
			WebhookQueue:  "new:webhook",
		},
		Cache: config.CacheConfig{
			VoucherTTL:     30 * time.Minute,
			NullTTL:        2 * time.Minute,
			RebuildLockTTL: 10 * time.Second,
			RebuildWorkers: 2,
			RebuildQueue:   16,
			RetryAttempts:  20,
		},
		Lock: config.LockConfig{OrderLease: 30 * time.Second},
	}
}

// memStore is an in-memory IDataSource with the same conflict semantics as
// the postgres implementation.
type memStore struct {
	mu           sync.Mutex
	nextVoucher  int64
	vouchers     map[int64]*model.Voucher
	orders       map[int64]*model.Order
	voucherReads int
	orderReads   int
	failPlace    int
}

func newMemStore() *memStore {
	return &memStore{
		vouchers: make(map[int64]*model.Voucher),
		orders:   make(map[int64]*model.Order),
	}
}

func (m *memStore) put(v *model.Voucher) *model.Voucher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.VoucherID == 0 {
		m.nextVoucher++
		v.VoucherID = m.nextVoucher
	} else if v.VoucherID > m.nextVoucher {
		m.nextVoucher = v.VoucherID
	}
	cp := *v
	m.vouchers[v.VoucherID] = &cp
	return v
}

func (m *memStore) CreateVoucher(_ context.Context, v *model.Voucher) (*model.Voucher, error) {
	created := *v
	created.VoucherID = 0
	created.CreatedAt = time.Now().UTC()
	return m.put(&created), nil
}

func (m *memStore) GetVoucherByID(_ context.Context, id int64) (*model.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voucherReads++
	v, ok := m.vouchers[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "voucher not found", nil)
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) UpdateVoucher(_ context.Context, v *model.Voucher) (*model.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.vouchers[v.VoucherID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "voucher not found", nil)
	}
	existing.Title = v.Title
	existing.BeginTime = v.BeginTime
	existing.EndTime = v.EndTime
	cp := *existing
	return &cp, nil
}

func (m *memStore) ResetVoucherStock(_ context.Context, id int64, stock int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "voucher not found", nil)
	}
	v.Stock = stock
	for orderID, o := range m.orders {
		if o.VoucherID == id {
			delete(m.orders, orderID)
		}
	}
	return nil
}

func (m *memStore) OrderExists(_ context.Context, userID, voucherID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.UserID == userID && o.VoucherID == voucherID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PlaceOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPlace > 0 {
		m.failPlace--
		return errors.New("connection refused")
	}
	for _, existing := range m.orders {
		if existing.UserID == o.UserID && existing.VoucherID == o.VoucherID {
			return database.ErrOrderExists
		}
	}
	v, ok := m.vouchers[o.VoucherID]
	if !ok || v.Stock <= 0 {
		return database.ErrStockDepleted
	}
	v.Stock--
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderReads++
	o, ok := m.orders[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "order not found", nil)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) CountOrders(_ context.Context, voucherID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		if o.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) setFailPlace(n int) {
	m.mu.Lock()
	m.failPlace = n
	m.mu.Unlock()
}

func (m *memStore) reads() (vouchers, orders int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voucherReads, m.orderReads
}

func newTestSeckill(t *testing.T, db database.IDataSource, opts ...Option) (*Seckill, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := New(testConfig(), db, rdb, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// seedVoucher stores an open voucher and seeds its admission stock.
func seedVoucher(t *testing.T, s *Seckill, store *memStore, stock int64) *model.Voucher {
	t.Helper()
	v := store.put(&model.Voucher{Title: gofakeit.ProductName(), Stock: stock})
	require.NoError(t, s.admission.Seed(context.Background(), v.VoucherID, stock))
	return v
}

func TestNew_WiresComponents(t *testing.T) {
	s, _ := newTestSeckill(t, newMemStore())

	assert.NotNil(t, s.Datasource())
	assert.Equal(t, "stream.orders", s.Orders().Stream())
	assert.Equal(t, "g1", s.Orders().Group())
	assert.True(t, s.rebuilds.IsRunning())

	pending, err := s.PendingOrders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, s.LoadScripts(context.Background()))
}

func TestClose_StopsRebuildPool(t *testing.T) {
	s, _ := newTestSeckill(t, newMemStore())
	require.NoError(t, s.Close())
	assert.False(t, s.rebuilds.IsRunning())
}
