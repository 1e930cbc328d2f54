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
	"time"

	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/model"
	"github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

func (d Datasource) OrderExists(ctx context.Context, userID, voucherID int64) (bool, error) {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Checking order existence")
	defer span.End()

	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM seckill.voucher_orders WHERE user_id = $1 AND voucher_id = $2)
	`, userID, voucherID).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		return false, pkgerrors.Wrap(err, "failed to check order existence")
	}
	return exists, nil
}

// PlaceOrder decrements the voucher stock only while it is positive and
// records the order in the same transaction. A zero-row decrement returns
// ErrStockDepleted; a second order for the same user and voucher returns
// ErrOrderExists. Neither writes anything.
func (d Datasource) PlaceOrder(ctx context.Context, o *model.Order) error {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Placing voucher order")
	defer span.End()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to begin order transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE seckill.seckill_vouchers
		SET stock = stock - 1, updated_at = NOW()
		WHERE voucher_id = $1 AND stock > 0
	`, o.VoucherID)
	if err != nil {
		span.RecordError(err)
		return pkgerrors.Wrap(err, "failed to decrement voucher stock")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to read affected rows")
	}
	if rows == 0 {
		return ErrStockDepleted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO seckill.voucher_orders (id, user_id, voucher_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, o.ID, o.UserID, o.VoucherID, o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrderExists
		}
		span.RecordError(err)
		return pkgerrors.Wrap(err, "failed to insert order")
	}

	return pkgerrors.Wrap(tx.Commit(), "failed to commit order transaction")
}

func (d Datasource) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	ctx, span := otel.Tracer("Seckill datasource").Start(ctx, "Fetching order from db")
	defer span.End()

	o := model.Order{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, user_id, voucher_id, created_at
		FROM seckill.voucher_orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.VoucherID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%d' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	return &o, nil
}

func (d Datasource) CountOrders(ctx context.Context, voucherID int64) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM seckill.voucher_orders WHERE voucher_id = $1
	`, voucherID).Scan(&count)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to count orders")
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// IsNotFound reports whether err is a not-found error from this package.
func IsNotFound(err error) bool {
	var apiErr apierror.APIError
	return errors.As(err, &apiErr) && apiErr.Code == apierror.ErrNotFound
}
