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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrLockHeld is returned when another owner holds the key.
	ErrLockHeld = errors.New("lock is already held")
	// ErrNotHolder is returned when the lock expired or belongs to another owner.
	ErrNotHolder = errors.New("lock expired or not held by this owner")
)

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker is a lease lock on a single redis key. The value is the owner token;
// only the owner can release or extend the lease.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string

	mu       sync.Mutex
	stopCh   chan struct{}
	watchdog sync.WaitGroup
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

// Key returns the locked key.
func (l *Locker) Key() string {
	return l.key
}

// Lock takes the key for ttl without waiting.
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

// TryLock takes the key for lease and keeps extending it every lease/3 until
// Unlock is called. If the holder crashes the key expires after lease.
func (l *Locker) TryLock(ctx context.Context, lease time.Duration) error {
	if err := l.Lock(ctx, lease); err != nil {
		return err
	}
	l.startWatchdog(lease)
	return nil
}

func (l *Locker) startWatchdog(lease time.Duration) {
	interval := lease / 3
	if interval <= 0 {
		return
	}

	l.mu.Lock()
	stopCh := make(chan struct{})
	l.stopCh = stopCh
	l.mu.Unlock()

	l.watchdog.Add(1)
	go func() {
		defer l.watchdog.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				err := l.ExtendLock(context.Background(), lease)
				if errors.Is(err, ErrNotHolder) {
					logrus.WithField("key", l.key).Warn("lock lost, watchdog stopped")
					return
				}
				if err != nil {
					logrus.WithField("key", l.key).WithError(err).Warn("failed to extend lock, retrying on next tick")
				}
			}
		}
	}()
}

func (l *Locker) stopWatchdog() {
	l.mu.Lock()
	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
	l.mu.Unlock()
	l.watchdog.Wait()
}

// Unlock stops the watchdog and deletes the key if this owner still holds it.
func (l *Locker) Unlock(ctx context.Context) error {
	l.stopWatchdog()

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrNotHolder, l.key)
	}
	return nil
}

// ExtendLock resets the key's expiry to extension if this owner still holds it.
func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("%w: %s", ErrNotHolder, l.key)
	}
	return nil
}
