package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Default dispatcher sizing.
const (
	DefaultQueueCapacity = 4
	DefaultWorkers       = 2
)

// Handler processes one queued job.
type Handler[T any] func(ctx context.Context, job T)

// Dispatcher feeds a fixed-capacity queue to a worker pool. Submit never
// blocks: when the queue is full the submitted job is discarded.
type Dispatcher[T any] struct {
	queue   chan T
	workers int
	handle  Handler[T]

	accepted  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DispatcherStats is a point-in-time view of the dispatcher counters.
type DispatcherStats struct {
	Capacity  int    `json:"capacity"`
	Queued    int    `json:"queued"`
	Accepted  uint64 `json:"accepted"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
}

func NewDispatcher[T any](capacity, workers int, handle Handler[T]) *Dispatcher[T] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher[T]{
		queue:   make(chan T, capacity),
		workers: workers,
		handle:  handle,
	}
}

// Start launches the workers. They run until Stop or ctx is cancelled.
func (d *Dispatcher[T]) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	return nil
}

func (d *Dispatcher[T]) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(ctx, job)
			d.processed.Add(1)
		}
	}
}

// Submit enqueues job if there is room and reports whether it was accepted.
func (d *Dispatcher[T]) Submit(job T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- job:
		d.accepted.Add(1)
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Stop lets the workers finish queued jobs and waits for them to exit.
func (d *Dispatcher[T]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
		d.cancel()
	}
}

func (d *Dispatcher[T]) Stats() DispatcherStats {
	return DispatcherStats{
		Capacity:  cap(d.queue),
		Queued:    len(d.queue),
		Accepted:  d.accepted.Load(),
		Dropped:   d.dropped.Load(),
		Processed: d.processed.Load(),
	}
}
