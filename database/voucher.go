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
	"database/sql"
	"errors"
	"fmt"

	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/model"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

func (d Datasource) CreateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Saving voucher to db")
	defer span.End()

	created := *v
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO seckill.seckill_vouchers (title, stock, begin_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING voucher_id, created_at, updated_at
	`, v.Title, v.Stock, nullTime(v.BeginTime), nullTime(v.EndTime)).Scan(&created.VoucherID, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create voucher", err)
	}
	return &created, nil
}

func (d Datasource) GetVoucherByID(ctx context.Context, id int64) (*model.Voucher, error) {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Fetching voucher from db")
	defer span.End()

	v := model.Voucher{}
	var begin, end sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT voucher_id, title, stock, begin_time, end_time, created_at, updated_at
		FROM seckill.seckill_vouchers
		WHERE voucher_id = $1
	`, id).Scan(&v.VoucherID, &v.Title, &v.Stock, &begin, &end, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Voucher with ID '%d' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve voucher", err)
	}
	v.BeginTime = begin.Time
	v.EndTime = end.Time
	return &v, nil
}

// UpdateVoucher changes the title and sale window. Stock is never written here.
func (d Datasource) UpdateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Updating voucher")
	defer span.End()

	updated := *v
	var begin, end sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE seckill.seckill_vouchers
		SET title = $2, begin_time = $3, end_time = $4, updated_at = NOW()
		WHERE voucher_id = $1
		RETURNING stock, begin_time, end_time, created_at, updated_at
	`, v.VoucherID, v.Title, nullTime(v.BeginTime), nullTime(v.EndTime)).Scan(&updated.Stock, &begin, &end, &updated.CreatedAt, &updated.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Voucher with ID '%d' not found", v.VoucherID), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update voucher", err)
	}
	updated.BeginTime = begin.Time
	updated.EndTime = end.Time
	return &updated, nil
}

// ResetVoucherStock starts a new sale round: stock is restored and the
// voucher's orders are removed in one transaction.
func (d Datasource) ResetVoucherStock(ctx context.Context, id int64, stock int64) error {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Resetting voucher stock")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin reset transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM seckill.voucher_orders WHERE voucher_id = $1`, id); err != nil {
		span.RecordError(err)
		return pkgerrors.Wrap(err, "failed to delete voucher orders")
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE seckill.seckill_vouchers SET stock = $2, updated_at = NOW() WHERE voucher_id = $1
	`, id, stock)
	if err != nil {
		span.RecordError(err)
		return pkgerrors.Wrap(err, "failed to reset voucher stock")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Voucher with ID '%d' not found", id), nil)
	}

	return pkgerrors.Wrap(tx.Commit(), "failed to commit reset transaction")
}
