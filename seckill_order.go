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
	"fmt"

	"github.com/flashmart/seckill/internal/admission"
	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/internal/cache"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Rejections returned by SeckillVoucher. They are expected outcomes of a
// sale and are compared with errors.Is.
var (
	ErrVoucherNotFound   = apierror.NewAPIError(apierror.ErrNotFound, "voucher not found", nil)
	ErrSeckillNotStarted = apierror.NewAPIError(apierror.ErrNotStarted, "seckill has not started yet", nil)
	ErrSeckillEnded      = apierror.NewAPIError(apierror.ErrEnded, "seckill has ended", nil)
	ErrOutOfStock        = apierror.NewAPIError(apierror.ErrOutOfStock, "voucher is out of stock", nil)
	ErrDuplicatePurchase = apierror.NewAPIError(apierror.ErrDuplicatePurchase, "user has already purchased this voucher", nil)
)

// SeckillVoucher admits userID to the sale of voucherID. On acceptance the
// order id is returned right away; the order itself is persisted later by an
// OrderConsumer.
func (s *Seckill) SeckillVoucher(ctx context.Context, voucherID, userID int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "SeckillVoucher")
	defer span.End()
	span.SetAttributes(attribute.Int64("voucher.id", voucherID), attribute.Int64("user.id", userID))

	if userID <= 0 {
		return 0, apierror.NewAPIError(apierror.ErrUnauthorized, "a user is required to place an order", nil)
	}

	v, err := cache.QueryWithLogicalExpire(ctx, s.cache, SeckillVoucherCachePrefix, voucherID, s.loadVoucher, s.config.Cache.VoucherTTL)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if v == nil {
		return 0, ErrVoucherNotFound
	}

	now := s.now()
	if v.NotStarted(now) {
		return 0, ErrSeckillNotStarted
	}
	if v.Ended(now) {
		return 0, ErrSeckillEnded
	}

	orderID, err := s.ids.NextID(ctx, OrderIDNamespace)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to generate order id: %w", err)
	}

	result, err := s.admission.Admit(ctx, voucherID, userID, orderID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("admission failed: %w", err)
	}
	span.SetAttributes(attribute.String("admission.result", result.String()))

	switch result {
	case admission.OutOfStock:
		return 0, ErrOutOfStock
	case admission.DuplicatePurchase:
		return 0, ErrDuplicatePurchase
	}

	logrus.WithFields(logrus.Fields{"voucher_id": voucherID, "user_id": userID, "order_id": orderID}).Debug("seckill admitted")
	return orderID, nil
}
