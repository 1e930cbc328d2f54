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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flashmart/seckill/config"
	redis_db "github.com/flashmart/seckill/internal/redis-db"
	"github.com/flashmart/seckill/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Queue carries the asynq tasks that run outside the request path: voucher
// cache preheats and outbound webhooks.
type Queue struct {
	Client       *asynq.Client
	Inspector    *asynq.Inspector
	preheatQueue string
	webhookQueue string
}

// VoucherPreheatPayload is the payload of a voucher preheat task.
type VoucherPreheatPayload struct {
	VoucherID int64     `json:"voucher_id"`
	BeginTime time.Time `json:"begin_time"`
}

// NewQueue connects the asynq client and inspector to the configured redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	return newQueue(opt, conf.Queue), nil
}

func newQueue(opt asynq.RedisConnOpt, conf config.QueueConfig) *Queue {
	return &Queue{
		Client:       asynq.NewClient(opt),
		Inspector:    asynq.NewInspector(opt),
		preheatQueue: conf.PreheatQueue,
		webhookQueue: conf.WebhookQueue,
	}
}

// PreheatQueue is the queue and task type name of preheat tasks.
func (q *Queue) PreheatQueue() string {
	return q.preheatQueue
}

// WebhookQueue is the queue and task type name of webhook tasks.
func (q *Queue) WebhookQueue() string {
	return q.webhookQueue
}

func preheatTaskID(v *model.Voucher) string {
	return fmt.Sprintf("preheat_%d_%d", v.VoucherID, v.BeginTime.Unix())
}

// EnqueueVoucherPreheat schedules the seckill cache preheat of v at
// processAt. Scheduling the same voucher and begin time twice is a no-op.
func (q *Queue) EnqueueVoucherPreheat(ctx context.Context, v *model.Voucher, processAt time.Time) error {
	payload, err := json.Marshal(VoucherPreheatPayload{VoucherID: v.VoucherID, BeginTime: v.BeginTime})
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.preheatQueue, payload,
		asynq.TaskID(preheatTaskID(v)),
		asynq.Queue(q.preheatQueue),
		asynq.ProcessAt(processAt),
		asynq.MaxRetry(3),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"voucher_id": v.VoucherID, "task_id": info.ID, "process_at": processAt}).Info("voucher preheat scheduled")
	return nil
}

// GetPreheatTask returns the pending preheat task of v, if any.
func (q *Queue) GetPreheatTask(v *model.Voucher) (*asynq.TaskInfo, error) {
	return q.Inspector.GetTaskInfo(q.preheatQueue, preheatTaskID(v))
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// ProcessVoucherPreheat is the asynq handler of preheat tasks.
func (s *Seckill) ProcessVoucherPreheat(ctx context.Context, task *asynq.Task) error {
	var payload VoucherPreheatPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.WithField("voucher_id", payload.VoucherID).Info("preheating voucher")
	return s.PreheatVoucher(ctx, payload.VoucherID)
}
