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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"

	"github.com/flashmart/seckill"
	"github.com/flashmart/seckill/config"
	redis_db "github.com/flashmart/seckill/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// processVoucherPreheat wraps the preheat handler in a worker span.
func (s *seckillInstance) processVoucherPreheat(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("seckill.preheat.worker").Start(ctx, "Preheat Voucher Cache")
	defer span.End()
	return s.seckill.ProcessVoucherPreheat(ctx, t)
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.PreheatQueue: 3,
		conf.Queue.WebhookQueue: 1,
	}
}

func initializeWorkerServer(opt asynq.RedisClientOpt, queues map[string]int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      queues,
	})
}

func initializeTaskHandlers(s *seckillInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(s.cnf.Queue.PreheatQueue, s.processVoucherPreheat)
	mux.HandleFunc(s.cnf.Queue.WebhookQueue, seckill.ProcessWebhook)
}

// startOrderConsumers starts the configured number of stream consumers, each
// under its own name within the group.
func startOrderConsumers(ctx context.Context, s *seckillInstance) ([]*seckill.OrderConsumer, error) {
	count := s.cnf.Queue.Consumers
	consumers := make([]*seckill.OrderConsumer, 0, count)
	for i := 1; i <= count; i++ {
		name := s.cnf.Queue.ConsumerName
		if count > 1 {
			name = fmt.Sprintf("%s-%d", s.cnf.Queue.ConsumerName, i)
		}
		c := s.seckill.NewOrderConsumer(seckill.WithConsumerName(name))
		if err := c.Start(ctx); err != nil {
			stopOrderConsumers(consumers)
			return nil, err
		}
		consumers = append(consumers, c)
	}
	return consumers, nil
}

func stopOrderConsumers(consumers []*seckill.OrderConsumer) {
	for _, c := range consumers {
		c.Stop()
	}
}

// workerCommands defines the "workers" command. It runs the order stream
// consumers next to the asynq server handling preheat and webhook tasks.
func workerCommands(s *seckillInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start seckill workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := s.cnf

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			defer s.seckill.Close()

			consumers, err := startOrderConsumers(ctx, s)
			if err != nil {
				log.Fatal("Error starting order consumers:", err)
			}
			defer stopOrderConsumers(consumers)

			redisOpt, err := redis_db.AsynqClientOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatal(err)
			}
			srv := initializeWorkerServer(redisOpt, initializeQueues(conf))

			mux := asynq.NewServeMux()
			initializeTaskHandlers(s, mux)

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: redisOpt,
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					logrus.Errorf("could not start asynqmon server: %v", err)
				}
			}()

			// Run blocks until SIGTERM or SIGINT
			if err := srv.Run(mux); err != nil {
				logrus.Errorf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
