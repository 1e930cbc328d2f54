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

package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Result is the admission decision returned by the script.
type Result int

const (
	Accepted Result = iota
	OutOfStock
	DuplicatePurchase
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case OutOfStock:
		return "out_of_stock"
	case DuplicatePurchase:
		return "duplicate_purchase"
	default:
		return "unknown(" + strconv.Itoa(int(r)) + ")"
	}
}

// KEYS: stock counter, purchase set, order stream.
// ARGV: voucherId, userId, orderId.
const admitLua = `
local stock = tonumber(redis.call('get', KEYS[1]))
if (not stock) or stock <= 0 then
    return 1
end
if redis.call('sismember', KEYS[2], ARGV[2]) == 1 then
    return 2
end
redis.call('decr', KEYS[1])
redis.call('sadd', KEYS[2], ARGV[2])
redis.call('xadd', KEYS[3], '*', 'userId', ARGV[2], 'voucherId', ARGV[1], 'id', ARGV[3])
return 0
`

// ErrClusterClient is returned by CheckClient for cluster clients. The script
// touches per-voucher keys and the shared order stream, which hash to
// different slots.
var ErrClusterClient = errors.New("admission script needs a standalone redis, cluster mode is not supported")

// CheckClient rejects clients the admission script cannot run on.
func CheckClient(client redis.UniversalClient) error {
	if _, ok := client.(*redis.ClusterClient); ok {
		return ErrClusterClient
	}
	return nil
}

// StockKey is the remaining stock counter of a voucher.
func StockKey(voucherID int64) string {
	return "seckill:stock:" + strconv.FormatInt(voucherID, 10)
}

// OrderSetKey is the set of users that passed admission for a voucher.
func OrderSetKey(voucherID int64) string {
	return "seckill:order:" + strconv.FormatInt(voucherID, 10)
}

// Script runs the admission check against redis. Stock check, purchase check,
// both mutations and the stream append happen in one script invocation, so no
// other admission for the same voucher can interleave.
type Script struct {
	client redis.UniversalClient
	stream string
	script *redis.Script
}

func New(client redis.UniversalClient, streamKey string) *Script {
	return &Script{
		client: client,
		stream: streamKey,
		script: redis.NewScript(admitLua),
	}
}

// Admit decides whether userID may buy voucherID and, if so, appends the order
// intent carrying orderID to the order stream.
func (s *Script) Admit(ctx context.Context, voucherID, userID, orderID int64) (Result, error) {
	keys := []string{StockKey(voucherID), OrderSetKey(voucherID), s.stream}
	code, err := s.script.Run(ctx, s.client, keys,
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("admission script failed for voucher %d: %w", voucherID, err)
	}

	result := Result(code)
	switch result {
	case Accepted, OutOfStock, DuplicatePurchase:
		return result, nil
	default:
		return 0, fmt.Errorf("admission script returned unknown code %d", code)
	}
}

// Load registers the script on the server ahead of the first Admit.
func (s *Script) Load(ctx context.Context) error {
	return s.script.Load(ctx, s.client).Err()
}

// Seed sets the stock counter for a newly published voucher.
func (s *Script) Seed(ctx context.Context, voucherID, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("stock cannot be negative: %d", stock)
	}
	return s.client.Set(ctx, StockKey(voucherID), stock, 0).Err()
}

// Reset restores the stock counter and clears the purchase set in one
// transaction. It is the only operation that shrinks a purchase set.
func (s *Script) Reset(ctx context.Context, voucherID, stock int64) error {
	if stock < 0 {
		return fmt.Errorf("stock cannot be negative: %d", stock)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, StockKey(voucherID), stock, 0)
		pipe.Del(ctx, OrderSetKey(voucherID))
		return nil
	})
	return err
}

// Stock returns the remaining admission stock, zero when the counter is absent.
func (s *Script) Stock(ctx context.Context, voucherID int64) (int64, error) {
	stock, err := s.client.Get(ctx, StockKey(voucherID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return stock, err
}

// HasPurchased reports whether userID already passed admission for voucherID.
func (s *Script) HasPurchased(ctx context.Context, voucherID, userID int64) (bool, error) {
	return s.client.SIsMember(ctx, OrderSetKey(voucherID), strconv.FormatInt(userID, 10)).Result()
}
