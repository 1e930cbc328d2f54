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

package model

import (
	"errors"
	"time"

	"github.com/flashmart/seckill/model"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type CreateVoucher struct {
	Title     string    `json:"title"`
	Stock     int64     `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
}

type UpdateVoucher struct {
	Title     string    `json:"title"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
}

type ResetVoucher struct {
	Stock int64 `json:"stock"`
}

type SeckillResponse struct {
	OrderID int64 `json:"order_id"`
}

func windowValidation(begin, end *time.Time) validation.RuleFunc {
	return func(value interface{}) error {
		if begin.IsZero() || end.IsZero() {
			return nil
		}
		if !end.After(*begin) {
			return errors.New("end_time must be after begin_time")
		}
		return nil
	}
}

func (v *CreateVoucher) ValidateCreateVoucher() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&v.Stock, validation.Min(int64(0))),
		validation.Field(&v.EndTime, validation.By(windowValidation(&v.BeginTime, &v.EndTime))),
	)
}

func (v *UpdateVoucher) ValidateUpdateVoucher() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&v.EndTime, validation.By(windowValidation(&v.BeginTime, &v.EndTime))),
	)
}

func (r *ResetVoucher) ValidateResetVoucher() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Stock, validation.Min(int64(0))),
	)
}

func (v *CreateVoucher) ToVoucher() *model.Voucher {
	return &model.Voucher{Title: v.Title, Stock: v.Stock, BeginTime: v.BeginTime, EndTime: v.EndTime}
}

func (v *UpdateVoucher) ToVoucher(id int64) *model.Voucher {
	return &model.Voucher{VoucherID: id, Title: v.Title, BeginTime: v.BeginTime, EndTime: v.EndTime}
}
