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
	"fmt"
	"strconv"
	"time"
)

// Order is one accepted purchase. At most one exists per (UserID, VoucherID).
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Stream field names of an order intent.
const (
	IntentFieldUserID    = "userId"
	IntentFieldVoucherID = "voucherId"
	IntentFieldOrderID   = "id"
)

// OrderIntent is the message appended to the order stream by the admission
// script. It is immutable once appended.
type OrderIntent struct {
	UserID    int64 `json:"userId"`
	VoucherID int64 `json:"voucherId"`
	OrderID   int64 `json:"id"`
}

// ToValues returns the stream field map for the intent.
func (i OrderIntent) ToValues() map[string]interface{} {
	return map[string]interface{}{
		IntentFieldUserID:    strconv.FormatInt(i.UserID, 10),
		IntentFieldVoucherID: strconv.FormatInt(i.VoucherID, 10),
		IntentFieldOrderID:   strconv.FormatInt(i.OrderID, 10),
	}
}

// ToOrder converts the intent into the order record it produces.
func (i OrderIntent) ToOrder(createdAt time.Time) *Order {
	return &Order{
		ID:        i.OrderID,
		UserID:    i.UserID,
		VoucherID: i.VoucherID,
		CreatedAt: createdAt,
	}
}

// IntentFromValues parses a stream field map into an OrderIntent.
func IntentFromValues(values map[string]interface{}) (OrderIntent, error) {
	var intent OrderIntent
	var err error

	if intent.UserID, err = parseID(values[IntentFieldUserID]); err != nil {
		return OrderIntent{}, fmt.Errorf("field %s: %w", IntentFieldUserID, err)
	}
	if intent.VoucherID, err = parseID(values[IntentFieldVoucherID]); err != nil {
		return OrderIntent{}, fmt.Errorf("field %s: %w", IntentFieldVoucherID, err)
	}
	if intent.OrderID, err = parseID(values[IntentFieldOrderID]); err != nil {
		return OrderIntent{}, fmt.Errorf("field %s: %w", IntentFieldOrderID, err)
	}
	return intent, nil
}
