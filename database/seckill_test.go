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

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Datasource{Conn: db}, mock
}

func TestCreateVoucher_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	v := &model.Voucher{
		Title:     gofakeit.ProductName(),
		Stock:     100,
		BeginTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
	}

	mock.ExpectQuery("INSERT INTO seckill.seckill_vouchers").
		WithArgs(v.Title, v.Stock, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"voucher_id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	created, err := ds.CreateVoucher(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.VoucherID)
	assert.Equal(t, v.Title, created.Title)
	assert.Equal(t, int64(0), v.VoucherID, "input is not mutated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVoucherByID(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()
	columns := []string{"voucher_id", "title", "stock", "begin_time", "end_time", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT voucher_id, title, stock").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(1), "Half price hotpot", int64(5), now, now.Add(time.Hour), now, now))
	mock.ExpectQuery("SELECT voucher_id, title, stock").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(2), "No window", int64(5), nil, nil, now, now))
	mock.ExpectQuery("SELECT voucher_id, title, stock").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(columns))

	v, err := ds.GetVoucherByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Half price hotpot", v.Title)
	assert.Equal(t, int64(5), v.Stock)
	assert.True(t, v.IsActive(now.Add(time.Minute)))

	v, err = ds.GetVoucherByID(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, v.BeginTime.IsZero())

	_, err = ds.GetVoucherByID(context.Background(), 3)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVoucher_NotFound(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("UPDATE seckill.seckill_vouchers").
		WithArgs(int64(9), "renamed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"stock", "begin_time", "end_time", "created_at", "updated_at"}))

	_, err := ds.UpdateVoucher(context.Background(), &model.Voucher{VoucherID: 9, Title: "renamed"})
	var apiErr apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetVoucherStock(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM seckill.voucher_orders").WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE seckill.seckill_vouchers SET stock").WithArgs(int64(5), int64(50)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ds.ResetVoucherStock(context.Background(), 5, 50))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetVoucherStock_UnknownVoucher(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM seckill.voucher_orders").WithArgs(int64(6)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE seckill.seckill_vouchers SET stock").WithArgs(int64(6), int64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := ds.ResetVoucherStock(context.Background(), 6, 1)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderExists(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(1), int64(3)).
		WillReturnError(errors.New("connection reset"))

	exists, err := ds.OrderExists(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = ds.OrderExists(context.Background(), 1, 3)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrder_Success(t *testing.T) {
	ds, mock := newMockDatasource(t)
	o := &model.Order{ID: 123, UserID: 1, VoucherID: 7}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seckill.seckill_vouchers").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO seckill.voucher_orders").
		WithArgs(int64(123), int64(1), int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ds.PlaceOrder(context.Background(), o))
	assert.False(t, o.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrder_StockDepleted(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seckill.seckill_vouchers").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := ds.PlaceOrder(context.Background(), &model.Order{ID: 1, UserID: 1, VoucherID: 7})
	assert.ErrorIs(t, err, ErrStockDepleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrder_UniqueViolation(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seckill.seckill_vouchers").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO seckill.voucher_orders").
		WithArgs(int64(2), int64(1), int64(7), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := ds.PlaceOrder(context.Background(), &model.Order{ID: 2, UserID: 1, VoucherID: 7})
	assert.ErrorIs(t, err, ErrOrderExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrder_DatabaseError(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE seckill.seckill_vouchers").WithArgs(int64(7)).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := ds.PlaceOrder(context.Background(), &model.Order{ID: 3, UserID: 1, VoucherID: 7})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStockDepleted)
	assert.ErrorContains(t, err, "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrder(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, user_id, voucher_id, created_at").WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "voucher_id", "created_at"}).AddRow(int64(10), int64(1), int64(7), now))
	mock.ExpectQuery("SELECT id, user_id, voucher_id, created_at").WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "voucher_id", "created_at"}))

	o, err := ds.GetOrder(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(7), o.VoucherID)

	_, err = ds.GetOrder(context.Background(), 11)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOrders(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := ds.CountOrders(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
