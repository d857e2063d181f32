package broadcast

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Submit after Shutdown has started.
var ErrPoolClosed = errors.New("worker pool is closed")

// WorkerPool is the shared, bounded pool that runs all outbound partner
// calls across simultaneous broadcasts. A core set of workers drains a
// bounded queue; under load, extra workers are spawned up to a hard maximum,
// and when both queue and workers are saturated the task runs on the
// caller's goroutine so the fan-out never grows unbounded.
type WorkerPool struct {
	queue chan func()

	mu      sync.Mutex
	workers int
	max     int
	closed  bool

	wg     sync.WaitGroup
	logger *log.Logger
}

// NewWorkerPool starts a pool with the given core worker count, worker
// ceiling, and queue capacity.
func NewWorkerPool(core, max, queueSize int) *WorkerPool {
	if core <= 0 {
		core = 10
	}
	if max < core {
		max = core
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	p := &WorkerPool{
		queue:  make(chan func(), queueSize),
		max:    max,
		logger: log.New(log.Writer(), "[WORKER-POOL] ", log.LstdFlags),
	}

	p.mu.Lock()
	for i := 0; i < core; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()

	return p
}

// Submit schedules a task. The task is enqueued when there is room; when the
// queue is full a new worker is spawned if the ceiling allows, otherwise the
// task runs synchronously on the caller's goroutine.
//
// The non-blocking sends happen under the mutex: Shutdown closes the queue
// under the same mutex, so a send can never hit a closed channel.
func (p *WorkerPool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		p.mu.Unlock()
		return nil
	default:
	}

	if p.workers < p.max {
		p.spawnLocked()
	}

	select {
	case p.queue <- task:
		p.mu.Unlock()
		return nil
	default:
	}
	p.mu.Unlock()

	// Queue and workers saturated: caller runs.
	task()
	return nil
}

// Workers reports the number of live workers.
func (p *WorkerPool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Shutdown stops accepting tasks, lets queued tasks drain, and waits up to
// grace for in-flight workers before giving up on them.
func (p *WorkerPool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.logger.Printf("⚠️ Worker pool did not drain within %s", grace)
	}
}

// spawnLocked starts one worker. Caller must hold p.mu.
func (p *WorkerPool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for task := range p.queue {
			task()
		}
	}()
}
