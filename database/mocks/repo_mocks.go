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
package mocks

import (
	"context"

	"github.com/flashmart/seckill/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Voucher methods

func (m *MockDataSource) CreateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) {
	args := m.Called(ctx, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Voucher), args.Error(1)
}

func (m *MockDataSource) GetVoucherByID(ctx context.Context, id int64) (*model.Voucher, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Voucher), args.Error(1)
}

func (m *MockDataSource) UpdateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) {
	args := m.Called(ctx, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Voucher), args.Error(1)
}

func (m *MockDataSource) ResetVoucherStock(ctx context.Context, id int64, stock int64) error {
	args := m.Called(ctx, id, stock)
	return args.Error(0)
}

// Order methods

func (m *MockDataSource) OrderExists(ctx context.Context, userID, voucherID int64) (bool, error) {
	args := m.Called(ctx, userID, voucherID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) PlaceOrder(ctx context.Context, o *model.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockDataSource) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockDataSource) CountOrders(ctx context.Context, voucherID int64) (int64, error) {
	args := m.Called(ctx, voucherID)
	return args.Get(0).(int64), args.Error(1)
}
