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
	"strings"
	"time"

	"github.com/flashmart/seckill/database"
	"github.com/flashmart/seckill/internal/apierror"
	"github.com/flashmart/seckill/internal/cache"
	"github.com/flashmart/seckill/model"
	"github.com/sirupsen/logrus"
)

func (s *Seckill) validateVoucher(v *model.Voucher) error {
	if strings.TrimSpace(v.Title) == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "voucher title is required", nil)
	}
	if v.Stock < 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "voucher stock cannot be negative", nil)
	}
	if !v.BeginTime.IsZero() && !v.EndTime.IsZero() && !v.EndTime.After(v.BeginTime) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "voucher end time must be after begin time", nil)
	}
	return nil
}

// AddSeckillVoucher stores a new voucher, seeds its admission stock and
// schedules the seckill cache preheat ahead of the sale.
func (s *Seckill) AddSeckillVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) {
	ctx, span := tracer.Start(ctx, "AddSeckillVoucher")
	defer span.End()

	if err := s.validateVoucher(v); err != nil {
		return nil, err
	}

	created, err := s.datasource.CreateVoucher(ctx, v)
	if err != nil {
		return nil, err
	}

	if err := s.admission.Seed(ctx, created.VoucherID, created.Stock); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to seed stock for voucher %d: %w", created.VoucherID, err)
	}

	if err := s.schedulePreheat(ctx, created); err != nil {
		logrus.WithField("voucher_id", created.VoucherID).WithError(err).Warn("failed to schedule voucher preheat")
	}
	s.sendWebhook(ctx, NewWebhook{Event: EventVoucherCreated, Payload: created})
	return created, nil
}

func (s *Seckill) schedulePreheat(ctx context.Context, v *model.Voucher) error {
	processAt := v.BeginTime.Add(-s.config.Queue.PreheatLead)
	if s.queue == nil || v.BeginTime.IsZero() || !processAt.After(s.now()) {
		return s.PreheatVoucher(ctx, v.VoucherID)
	}
	return s.queue.EnqueueVoucherPreheat(ctx, v, processAt)
}

// PreheatVoucher writes the logically expiring seckill entry for the voucher
// so the first buyers never hit the durable store.
func (s *Seckill) PreheatVoucher(ctx context.Context, voucherID int64) error {
	v, err := s.loadVoucher(ctx, voucherID)
	if err != nil {
		return err
	}
	if v == nil {
		logrus.WithField("voucher_id", voucherID).Info("voucher gone, skipping preheat")
		return nil
	}
	return s.cache.SetWithLogicalExpire(ctx, cache.Key(SeckillVoucherCachePrefix, voucherID), v, s.config.Cache.VoucherTTL)
}

// GetVoucher reads a voucher through the mutex-gated cache.
func (s *Seckill) GetVoucher(ctx context.Context, voucherID int64) (*model.Voucher, error) {
	v, err := cache.QueryWithMutex(ctx, s.cache, VoucherCachePrefix, voucherID, s.loadVoucher, s.config.Cache.VoucherTTL)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Voucher with ID '%d' not found", voucherID), nil)
	}
	return v, nil
}

// UpdateVoucher writes the durable store first and then drops the cached
// copies, so the next read rebuilds from the new row.
func (s *Seckill) UpdateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) {
	ctx, span := tracer.Start(ctx, "UpdateVoucher")
	defer span.End()

	if v.VoucherID <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "voucher id is required", nil)
	}
	if err := s.validateVoucher(v); err != nil {
		return nil, err
	}

	updated, err := s.datasource.UpdateVoucher(ctx, v)
	if err != nil {
		return nil, err
	}
	if err := s.invalidateVoucher(ctx, updated.VoucherID); err != nil {
		return updated, err
	}
	if err := s.schedulePreheat(ctx, updated); err != nil {
		logrus.WithField("voucher_id", updated.VoucherID).WithError(err).Warn("failed to schedule voucher preheat")
	}
	return updated, nil
}

// ResetVoucher starts a new sale round: durable stock and orders, the
// admission counter and the purchase set are all reset.
func (s *Seckill) ResetVoucher(ctx context.Context, voucherID, stock int64) error {
	if stock < 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "voucher stock cannot be negative", nil)
	}
	if err := s.datasource.ResetVoucherStock(ctx, voucherID, stock); err != nil {
		return err
	}
	if err := s.admission.Reset(ctx, voucherID, stock); err != nil {
		return fmt.Errorf("failed to reset admission state for voucher %d: %w", voucherID, err)
	}
	if err := s.invalidateVoucher(ctx, voucherID); err != nil {
		return err
	}
	s.sendWebhook(ctx, NewWebhook{Event: EventVoucherReset, Payload: map[string]int64{"voucher_id": voucherID, "stock": stock}})
	return nil
}

// AdmissionStock returns the remaining admission stock of a voucher.
func (s *Seckill) AdmissionStock(ctx context.Context, voucherID int64) (int64, error) {
	return s.admission.Stock(ctx, voucherID)
}

func (s *Seckill) invalidateVoucher(ctx context.Context, voucherID int64) error {
	var errs []error
	for _, prefix := range []string{VoucherCachePrefix, SeckillVoucherCachePrefix} {
		if err := s.cache.Delete(ctx, cache.Key(prefix, voucherID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Seckill) loadVoucher(ctx context.Context, voucherID int64) (*model.Voucher, error) {
	v, err := s.datasource.GetVoucherByID(ctx, voucherID)
	if database.IsNotFound(err) {
		return nil, nil
	}
	return v, err
}

// GetOrder reads an order through the negative-caching passthrough cache.
func (s *Seckill) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	o, err := cache.QueryWithPassThrough(ctx, s.cache, OrderCachePrefix, orderID, s.loadOrder, s.config.Cache.VoucherTTL)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%d' not found", orderID), nil)
	}
	return o, nil
}

func (s *Seckill) loadOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	o, err := s.datasource.GetOrder(ctx, orderID)
	if database.IsNotFound(err) {
		return nil, nil
	}
	return o, err
}

func (s *Seckill) nowUTC() time.Time {
	return s.now().UTC()
}
