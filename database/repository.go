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

	"github.com/flashmart/seckill/model"
)

var (
	// ErrStockDepleted is returned by PlaceOrder when the conditional stock
	// decrement matched no row.
	ErrStockDepleted = errors.New("voucher stock depleted")
	// ErrOrderExists is returned by PlaceOrder when the user already holds an
	// order for the voucher.
	ErrOrderExists = errors.New("order already exists for user and voucher")
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	voucher // Interface for seckill voucher operations
	order   // Interface for voucher order operations
}

// voucher defines methods for handling seckill vouchers.
type voucher interface {
	CreateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error) // Creates a voucher with its initial stock
	GetVoucherByID(ctx context.Context, id int64) (*model.Voucher, error)         // Retrieves a voucher by ID
	UpdateVoucher(ctx context.Context, v *model.Voucher) (*model.Voucher, error)  // Updates title and sale window
	ResetVoucherStock(ctx context.Context, id int64, stock int64) error           // Restores stock and removes the voucher's orders
}

// order defines methods for handling voucher orders.
type order interface {
	OrderExists(ctx context.Context, userID, voucherID int64) (bool, error) // Checks whether the user already ordered the voucher
	PlaceOrder(ctx context.Context, o *model.Order) error                   // Decrements stock and records the order atomically
	GetOrder(ctx context.Context, id int64) (*model.Order, error)           // Retrieves an order by ID
	CountOrders(ctx context.Context, voucherID int64) (int64, error)        // Counts orders recorded for a voucher
}
