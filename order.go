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
	"fmt"

	"github.com/flashmart/seckill/database"
	"github.com/flashmart/seckill/internal/cache"
	redlock "github.com/flashmart/seckill/internal/lock"
	"github.com/flashmart/seckill/model"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// OrderOutcome describes what CreateVoucherOrder did with an intent. Every
// outcome except OrderFailed means the intent is handled and may be
// acknowledged.
type OrderOutcome int

const (
	OrderFailed OrderOutcome = iota
	OrderCreated
	OrderAlreadyExists
	OrderStockDepleted
)

func (o OrderOutcome) String() string {
	switch o {
	case OrderFailed:
		return "failed"
	case OrderCreated:
		return "created"
	case OrderAlreadyExists:
		return "already_exists"
	case OrderStockDepleted:
		return "stock_depleted"
	default:
		return "unknown"
	}
}

// ErrOrderLockBusy is returned when another worker holds the user's order
// lock. The intent stays pending and is retried on redelivery.
var ErrOrderLockBusy = errors.New("order lock held by another worker")

// OrderLockKey is the per-user persistence lock key.
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("%s%d", OrderLockPrefix, userID)
}

// CreateVoucherOrder turns an admitted intent into a durable order. It is
// safe to call any number of times for the same intent.
func (s *Seckill) CreateVoucherOrder(ctx context.Context, intent model.OrderIntent) (OrderOutcome, error) {
	ctx, span := tracer.Start(ctx, "CreateVoucherOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", intent.OrderID),
		attribute.Int64("voucher.id", intent.VoucherID),
		attribute.Int64("user.id", intent.UserID),
	)

	locker := redlock.NewLocker(s.redis, OrderLockKey(intent.UserID), model.GenerateUUIDWithSuffix("lock"))
	if err := locker.TryLock(ctx, s.config.Lock.OrderLease); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			logrus.WithField("user_id", intent.UserID).Info("order lock busy, leaving intent pending")
			return OrderFailed, ErrOrderLockBusy
		}
		span.RecordError(err)
		return OrderFailed, err
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithField("key", locker.Key()).WithError(err).Warn("failed to release order lock")
		}
	}()

	exists, err := s.datasource.OrderExists(ctx, intent.UserID, intent.VoucherID)
	if err != nil {
		span.RecordError(err)
		return OrderFailed, err
	}
	if exists {
		return OrderAlreadyExists, nil
	}

	order := intent.ToOrder(s.nowUTC())
	err = s.datasource.PlaceOrder(ctx, order)
	switch {
	case errors.Is(err, database.ErrStockDepleted):
		logrus.WithFields(logrus.Fields{"voucher_id": intent.VoucherID, "order_id": intent.OrderID}).Warn("durable stock depleted, dropping order intent")
		return OrderStockDepleted, nil
	case errors.Is(err, database.ErrOrderExists):
		return OrderAlreadyExists, nil
	case err != nil:
		span.RecordError(err)
		return OrderFailed, err
	}

	if err := s.cache.Delete(ctx, cache.Key(OrderCachePrefix, order.ID)); err != nil {
		logrus.WithField("order_id", order.ID).WithError(err).Warn("failed to drop cached order entry")
	}
	s.sendWebhook(ctx, NewWebhook{Event: EventOrderCreated, Payload: order})
	return OrderCreated, nil
}
