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
	"fmt"
	"net/http"

	"github.com/flashmart/seckill/config"
	"github.com/flashmart/seckill/internal/request"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	EventOrderCreated   = "order.created"
	EventVoucherReset   = "voucher.reset"
	EventVoucherCreated = "voucher.created"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// SendWebhook enqueues a webhook notification task. Nothing is enqueued when
// no webhook url is configured.
func (q *Queue) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.webhookQueue, payload, asynq.Queue(q.webhookQueue), asynq.MaxRetry(5))
	if _, err := q.Client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	return nil
}

func (s *Seckill) sendWebhook(ctx context.Context, hook NewWebhook) {
	if s.queue == nil {
		return
	}
	if err := s.queue.SendWebhook(ctx, hook); err != nil {
		logrus.WithField("event", hook.Event).WithError(err).Warn("failed to enqueue webhook")
	}
}

func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	body, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	var response map[string]interface{}
	if _, err := request.Call(req, &response); err != nil {
		return fmt.Errorf("webhook %s: %w", data.Event, err)
	}
	logrus.WithField("event", data.Event).Debug("webhook notification sent")
	return nil
}

// ProcessWebhook is the asynq handler of webhook tasks.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.WithField("event", payload.Event).Info("processing webhook")
	return processHTTP(ctx, conf, payload)
}
