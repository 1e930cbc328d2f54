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

package workerpool

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool runs submitted jobs on a fixed number of goroutines. Jobs wait in a
// bounded queue; Submit never blocks.
type Pool struct {
	size int
	jobs chan func()

	mu      sync.Mutex
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// New creates a pool with size workers and room for queueSize waiting jobs.
func New(size, queueSize int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		size: size,
		jobs: make(chan func(), queueSize),
	}
}

// Start launches the workers. Calling Start on a running or stopped pool is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	p.running = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("worker pool job panicked: %v", r)
		}
	}()
	job()
}

// Submit queues job. It returns false when the queue is full or the pool is
// not running.
func (p *Pool) Submit(job func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop rejects new jobs, lets the workers finish everything already queued and
// waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// IsRunning reports whether the pool accepts jobs.
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}
