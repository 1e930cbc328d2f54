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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SECKILL_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SECKILL_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SECKILL_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SECKILL_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SECKILL_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SECKILL_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns             string        `json:"dns" envconfig:"SECKILL_DATA_SOURCE_DNS"`
	MaxOpenConns    int           `json:"max_open_conns" envconfig:"SECKILL_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" envconfig:"SECKILL_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" envconfig:"SECKILL_DATA_SOURCE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" envconfig:"SECKILL_DATA_SOURCE_CONN_MAX_IDLE_TIME"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SECKILL_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SECKILL_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig controls the order stream consumers and the asynq task queues.
type QueueConfig struct {
	OrderStream    string        `json:"order_stream" envconfig:"SECKILL_QUEUE_ORDER_STREAM"`
	ConsumerGroup  string        `json:"consumer_group" envconfig:"SECKILL_QUEUE_CONSUMER_GROUP"`
	ConsumerName   string        `json:"consumer_name" envconfig:"SECKILL_QUEUE_CONSUMER_NAME"`
	Consumers      int           `json:"consumers" envconfig:"SECKILL_QUEUE_CONSUMERS"`
	BlockTimeout   time.Duration `json:"block_timeout" envconfig:"SECKILL_QUEUE_BLOCK_TIMEOUT"`
	RetryDelay     time.Duration `json:"retry_delay" envconfig:"SECKILL_QUEUE_RETRY_DELAY"`
	ClaimInterval  time.Duration `json:"claim_interval" envconfig:"SECKILL_QUEUE_CLAIM_INTERVAL"`
	ClaimMinIdle   time.Duration `json:"claim_min_idle" envconfig:"SECKILL_QUEUE_CLAIM_MIN_IDLE"`
	PreheatQueue   string        `json:"preheat_queue" envconfig:"SECKILL_QUEUE_PREHEAT_QUEUE"`
	PreheatLead    time.Duration `json:"preheat_lead" envconfig:"SECKILL_QUEUE_PREHEAT_LEAD"`
	WebhookQueue   string        `json:"webhook_queue" envconfig:"SECKILL_QUEUE_WEBHOOK_QUEUE"`
	MonitoringPort string        `json:"monitoring_port" envconfig:"SECKILL_QUEUE_MONITORING_PORT"`
}

// CacheConfig controls the cache-aside strategies in front of the voucher table.
type CacheConfig struct {
	VoucherTTL     time.Duration `json:"voucher_ttl" envconfig:"SECKILL_CACHE_VOUCHER_TTL"`
	NullTTL        time.Duration `json:"null_ttl" envconfig:"SECKILL_CACHE_NULL_TTL"`
	RebuildLockTTL time.Duration `json:"rebuild_lock_ttl" envconfig:"SECKILL_CACHE_REBUILD_LOCK_TTL"`
	RebuildWorkers int           `json:"rebuild_workers" envconfig:"SECKILL_CACHE_REBUILD_WORKERS"`
	RebuildQueue   int           `json:"rebuild_queue" envconfig:"SECKILL_CACHE_REBUILD_QUEUE"`
	RetryAttempts  uint64        `json:"retry_attempts" envconfig:"SECKILL_CACHE_RETRY_ATTEMPTS"`
	LocalSize      int           `json:"local_size" envconfig:"SECKILL_CACHE_LOCAL_SIZE"`
}

type LockConfig struct {
	OrderLease time.Duration `json:"order_lease" envconfig:"SECKILL_LOCK_ORDER_LEASE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SECKILL_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SECKILL_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SECKILL_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type WebhookConfig struct {
	Url     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"SECKILL_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"SECKILL_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Cache           CacheConfig      `json:"cache"`
	Lock            LockConfig       `json:"lock"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("seckill", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called seckill.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Seckill Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.DataSource.applyDefaults()
	cnf.Queue.applyDefaults()
	cnf.Cache.applyDefaults()

	if cnf.Lock.OrderLease <= 0 {
		cnf.Lock.OrderLease = 30 * time.Second
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (d *DataSourceConfig) applyDefaults() {
	if d.MaxOpenConns <= 0 {
		d.MaxOpenConns = 25
	}
	if d.MaxIdleConns <= 0 {
		d.MaxIdleConns = 10
	}
	if d.ConnMaxLifetime <= 0 {
		d.ConnMaxLifetime = 30 * time.Minute
	}
	if d.ConnMaxIdleTime <= 0 {
		d.ConnMaxIdleTime = 5 * time.Minute
	}
}

func (q *QueueConfig) applyDefaults() {
	if q.OrderStream == "" {
		q.OrderStream = "stream.orders"
	}
	if q.ConsumerGroup == "" {
		q.ConsumerGroup = "g1"
	}
	if q.ConsumerName == "" {
		q.ConsumerName = "c1"
	}
	if q.Consumers <= 0 {
		q.Consumers = 1
	}
	if q.BlockTimeout <= 0 {
		q.BlockTimeout = 2 * time.Second
	}
	if q.RetryDelay <= 0 {
		q.RetryDelay = 20 * time.Millisecond
	}
	if q.ClaimInterval <= 0 {
		q.ClaimInterval = 30 * time.Second
	}
	if q.ClaimMinIdle <= 0 {
		q.ClaimMinIdle = time.Minute
	}
	if q.PreheatQueue == "" {
		q.PreheatQueue = "voucher_preheat"
	}
	if q.PreheatLead <= 0 {
		q.PreheatLead = 5 * time.Minute
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "new:webhook"
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = "5004"
	}
}

func (c *CacheConfig) applyDefaults() {
	if c.VoucherTTL <= 0 {
		c.VoucherTTL = 30 * time.Minute
	}
	if c.NullTTL <= 0 {
		c.NullTTL = 2 * time.Minute
	}
	if c.RebuildLockTTL <= 0 {
		c.RebuildLockTTL = 10 * time.Second
	}
	if c.RebuildWorkers <= 0 {
		c.RebuildWorkers = 10
	}
	if c.RebuildQueue <= 0 {
		c.RebuildQueue = 100
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 20
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
