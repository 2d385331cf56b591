package server

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Task is a unit of work executed by the worker pool.
// The context is canceled when the pool stops.
type Task func(ctx context.Context)

// DefaultWorkers returns the default pool size (one worker per cpu)
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// PoolStats is a snapshot of the worker pool counters
type PoolStats struct {
	Workers   int   `json:"workers"`
	Capacity  int   `json:"capacity"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
	Discarded int64 `json:"discarded"`
}

// WorkerPool is a fixed number of workers consuming a bounded FIFO queue.
// Submitting never blocks: when the queue is full the task is rejected.
//
// Lifecycle: NewWorkerPool → Start → Stop. A stopped pool rejects every task.
type WorkerPool struct {
	workers int
	tasks   chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders TrySubmit against Stop, a task is never queued after Stop drained the queue
	mu      sync.RWMutex
	started bool
	stopped bool

	submitted *xsync.Counter
	rejected  *xsync.Counter
	completed *xsync.Counter
	panics    *xsync.Counter
	discarded *xsync.Counter
}

// NewWorkerPool creates a pool with the given number of workers and queue capacity
func NewWorkerPool(workers, capacity int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workers:   workers,
		tasks:     make(chan Task, capacity),
		ctx:       ctx,
		cancel:    cancel,
		submitted: xsync.NewCounter(),
		rejected:  xsync.NewCounter(),
		completed: xsync.NewCounter(),
		panics:    xsync.NewCounter(),
		discarded: xsync.NewCounter(),
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.work()
	}
}

// TrySubmit queues task without blocking.
// It returns false if the queue is full or the pool is stopped.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *WorkerPool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.rejected.Inc()
		return false
	}

	select {
	case p.tasks <- task:
		p.submitted.Inc()
		return true
	default:
		p.rejected.Inc()
		return false
	}
}

// Stop cancels the context of running tasks, waits for the workers to exit and
// discards every task still in the queue.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	discarded := 0
	for {
		select {
		case <-p.tasks:
			discarded++
			p.discarded.Inc()
		default:
			if discarded > 0 {
				Logger.Infof("worker pool stopped, discarded %d queued tasks", discarded)
			}
			return
		}
	}
}

// Len returns the number of queued tasks
func (p *WorkerPool) Len() int {
	return len(p.tasks)
}

// Stats returns a snapshot of the pool counters
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Capacity:  cap(p.tasks),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Value(),
		Rejected:  p.rejected.Value(),
		Completed: p.completed.Value(),
		Panics:    p.panics.Value(),
		Discarded: p.discarded.Value(),
	}
}

// work runs tasks until the pool is stopped
func (p *WorkerPool) work() {
	defer p.wg.Done()

	for {
		// prefer stopping over picking up more work
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

// run executes a single task. A panic is logged and never terminates the worker.
func (p *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Inc()
			Logger.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
		p.completed.Inc()
	}()
	task(p.ctx)
}
