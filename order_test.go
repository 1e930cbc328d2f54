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
	"testing"

	"github.com/flashmart/seckill/database"
	"github.com/flashmart/seckill/database/mocks"
	"github.com/flashmart/seckill/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateVoucherOrder_Created(t *testing.T) {
	store := newMemStore()
	s, mr := newTestSeckill(t, store)
	v := store.put(&model.Voucher{Title: "coffee", Stock: 2})
	intent := model.OrderIntent{UserID: 11, VoucherID: v.VoucherID, OrderID: 9001}

	outcome, err := s.CreateVoucherOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, OrderCreated, outcome)

	o, err := store.GetOrder(context.Background(), 9001)
	require.NoError(t, err)
	assert.Equal(t, int64(11), o.UserID)
	assert.False(t, o.CreatedAt.IsZero())

	stored, _ := store.GetVoucherByID(context.Background(), v.VoucherID)
	assert.Equal(t, int64(1), stored.Stock)
	assert.False(t, mr.Exists(OrderLockKey(11)))
}

func TestCreateVoucherOrder_IsIdempotent(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := store.put(&model.Voucher{Title: "coffee", Stock: 5})
	intent := model.OrderIntent{UserID: 11, VoucherID: v.VoucherID, OrderID: 9001}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateVoucherOrder(ctx, intent)
		require.NoError(t, err)
	}
	outcome, err := s.CreateVoucherOrder(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, OrderAlreadyExists, outcome)

	count, _ := store.CountOrders(ctx, v.VoucherID)
	assert.Equal(t, int64(1), count)
	stored, _ := store.GetVoucherByID(ctx, v.VoucherID)
	assert.Equal(t, int64(4), stored.Stock)
}

func TestCreateVoucherOrder_LockBusy(t *testing.T) {
	store := newMemStore()
	s, mr := newTestSeckill(t, store)
	v := store.put(&model.Voucher{Title: "coffee", Stock: 5})
	require.NoError(t, mr.Set(OrderLockKey(11), "another-worker"))

	outcome, err := s.CreateVoucherOrder(context.Background(), model.OrderIntent{UserID: 11, VoucherID: v.VoucherID, OrderID: 1})
	assert.ErrorIs(t, err, ErrOrderLockBusy)
	assert.Equal(t, OrderFailed, outcome)

	count, _ := store.CountOrders(context.Background(), v.VoucherID)
	assert.Zero(t, count)
	got, _ := mr.Get(OrderLockKey(11))
	assert.Equal(t, "another-worker", got)
}

func TestCreateVoucherOrder_DurableStockDepleted(t *testing.T) {
	store := newMemStore()
	s, _ := newTestSeckill(t, store)
	v := store.put(&model.Voucher{Title: "coffee", Stock: 0})

	outcome, err := s.CreateVoucherOrder(context.Background(), model.OrderIntent{UserID: 11, VoucherID: v.VoucherID, OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, OrderStockDepleted, outcome)

	count, _ := store.CountOrders(context.Background(), v.VoucherID)
	assert.Zero(t, count)
}

func TestCreateVoucherOrder_ReleasesLockOnFailure(t *testing.T) {
	store := newMemStore()
	store.setFailPlace(1)
	s, mr := newTestSeckill(t, store)
	v := store.put(&model.Voucher{Title: "coffee", Stock: 1})
	intent := model.OrderIntent{UserID: 11, VoucherID: v.VoucherID, OrderID: 1}

	_, err := s.CreateVoucherOrder(context.Background(), intent)
	assert.Error(t, err)
	assert.False(t, mr.Exists(OrderLockKey(11)))

	outcome, err := s.CreateVoucherOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, OrderCreated, outcome)
}

func TestCreateVoucherOrder_UniqueViolationCountsAsHandled(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, _ := newTestSeckill(t, ds)
	intent := model.OrderIntent{UserID: 3, VoucherID: 4, OrderID: 5}

	ds.On("OrderExists", mock.Anything, int64(3), int64(4)).Return(false, nil)
	ds.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o *model.Order) bool { return o.ID == 5 })).Return(database.ErrOrderExists)

	outcome, err := s.CreateVoucherOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, OrderAlreadyExists, outcome)
	ds.AssertExpectations(t)
}

func TestCreateVoucherOrder_LookupError(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, mr := newTestSeckill(t, ds)

	ds.On("OrderExists", mock.Anything, int64(3), int64(4)).Return(false, errors.New("timeout"))

	_, err := s.CreateVoucherOrder(context.Background(), model.OrderIntent{UserID: 3, VoucherID: 4, OrderID: 5})
	assert.EqualError(t, err, "timeout")
	assert.False(t, mr.Exists(OrderLockKey(3)))
	ds.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestOrderOutcome_String(t *testing.T) {
	assert.Equal(t, "failed", OrderFailed.String())
	assert.Equal(t, "created", OrderCreated.String())
	assert.Equal(t, "already_exists", OrderAlreadyExists.String())
	assert.Equal(t, "stock_depleted", OrderStockDepleted.String())
	assert.Equal(t, "unknown", OrderOutcome(42).String())
}
