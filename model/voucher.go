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

import "time"

// Voucher is a flash-sale offer. Stock is owned by the durable store and is
// only ever decremented through a conditional update.
type Voucher struct {
	VoucherID int64     `json:"voucher_id"`
	Title     string    `json:"title"`
	Stock     int64     `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotStarted reports whether the sale window has not opened yet at now.
func (v *Voucher) NotStarted(now time.Time) bool {
	return !v.BeginTime.IsZero() && now.Before(v.BeginTime)
}

// Ended reports whether the sale window has closed at now.
func (v *Voucher) Ended(now time.Time) bool {
	return !v.EndTime.IsZero() && now.After(v.EndTime)
}

// IsActive reports whether now falls inside the sale window.
func (v *Voucher) IsActive(now time.Time) bool {
	return !v.NotStarted(now) && !v.Ended(now)
}
