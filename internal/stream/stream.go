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

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flashmart/seckill/model"
	"github.com/redis/go-redis/v9"
)

// ErrMalformedMessage marks a stream entry that cannot be decoded into an
// order intent. Such entries can never succeed and should be acked.
var ErrMalformedMessage = errors.New("malformed order intent")

const (
	DefaultStream = "stream.orders"
	DefaultGroup  = "g1"
)

// Message is one delivered stream entry. Err is set when the entry could not
// be decoded; Intent is zero in that case.
type Message struct {
	ID     string
	Intent model.OrderIntent
	Err    error
}

// Queue reads order intents from a redis stream through a consumer group.
// Read entries stay in the consumer's pending set until acked.
type Queue struct {
	client redis.UniversalClient
	stream string
	group  string
}

func NewQueue(client redis.UniversalClient, streamKey, group string) *Queue {
	if streamKey == "" {
		streamKey = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	return &Queue{client: client, stream: streamKey, group: group}
}

func (q *Queue) Stream() string { return q.stream }

func (q *Queue) Group() string { return q.group }

// EnsureGroup creates the consumer group, and the stream if missing. An
// existing group is not an error.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

// Append adds an intent to the stream and returns the entry id.
func (q *Queue) Append(ctx context.Context, intent model.OrderIntent) (string, error) {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: intent.ToValues(),
	}).Result()
}

// ReadNew delivers up to count entries never delivered to the group, waiting
// at most block for one to arrive. A timeout yields no messages and no error.
// A non-positive block does not wait.
func (q *Queue) ReadNew(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	if block <= 0 {
		block = -1
	}
	return q.read(ctx, consumer, ">", count, block)
}

// ReadPending returns up to count entries already delivered to consumer but
// not acked, oldest first. It never waits.
func (q *Queue) ReadPending(ctx context.Context, consumer string, count int64) ([]Message, error) {
	return q.read(ctx, consumer, "0", count, -1)
}

func (q *Queue) read(ctx context.Context, consumer, start string, count int64, block time.Duration) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, start},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			messages = append(messages, decode(entry))
		}
	}
	return messages, nil
}

func decode(entry redis.XMessage) Message {
	msg := Message{ID: entry.ID}
	if len(entry.Values) == 0 {
		msg.Err = fmt.Errorf("%w: entry %s has no fields", ErrMalformedMessage, entry.ID)
		return msg
	}
	intent, err := model.IntentFromValues(entry.Values)
	if err != nil {
		msg.Err = fmt.Errorf("%w: entry %s: %v", ErrMalformedMessage, entry.ID, err)
		return msg
	}
	msg.Intent = intent
	return msg
}

// Ack removes entries from the group's pending set.
func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.client.XAck(ctx, q.stream, q.group, ids...).Err()
}

// PendingCount returns the number of delivered but unacked entries in the group.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// ClaimStale moves entries idle for longer than minIdle, typically left behind
// by a crashed consumer, into consumer's pending set. It returns how many
// entries were claimed.
func (q *Queue) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) (int, error) {
	claimed := 0
	start := "0-0"
	for {
		messages, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    count,
		}).Result()
		if err != nil {
			return claimed, err
		}
		claimed += len(messages)
		if next == "0-0" || next == "" || next == start {
			return claimed, nil
		}
		start = next
	}
}
