package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher queue full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type keyQueue struct {
	jobs    []Job
	queued  bool // waiting in the ready list
	running bool // one job in flight
}

// Dispatcher runs jobs on a worker pool. Jobs for one key run one at a time
// in arrival order; keys with pending work are served round-robin.
type Dispatcher struct {
	pool   *workerPool
	intake chan Job
	wake   chan struct{}
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Int64 // accepted jobs not yet finished

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // keys with a runnable job
	positions map[string]*list.Element
}

func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		pool:      newWorkerPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, logger),
		intake:    make(chan Job, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool.warmUp()
	go d.run()
	return d
}

// Submit queues fn under key without blocking.
func (d *Dispatcher) Submit(key string, fn func(ctx context.Context)) error {
	if fn == nil {
		return errors.New("job func required")
	}
	if d.ctx.Err() != nil {
		return ErrDispatcherClosed
	}
	d.active.Add(1)
	select {
	case d.intake <- Job{Key: key, Run: fn}:
		return nil
	default:
		d.active.Add(-1)
		return ErrDispatcherBusy
	}
}

// Wait blocks until every accepted job has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for d.active.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting jobs and stops the workers. Queued jobs are dropped.
func (d *Dispatcher) Close() {
	d.cancel()
}

func (d *Dispatcher) run() {
	for {
		if d.dispatchOne() {
			select {
			case job := <-d.intake:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case job := <-d.intake:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.ctx.Done():
			d.dropPending()
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.queued || q.running {
		return
	}
	q.queued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the next job of the front key to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.queued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, key)
	d.mu.Unlock()

	ch := d.pool.acquire()
	if ch == nil {
		d.finish(key)
		d.active.Add(-1)
		return false
	}
	debugLog("[dispatcher] assign job for %s to worker-%d", key, d.pool.workerID(ch))
	ch <- task{job: job, done: func() {
		d.finish(key)
		d.active.Add(-1)
	}}
	return true
}

// finish requeues key behind the others when it still has work.
func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	if q := d.queues[key]; q != nil {
		q.running = false
		if len(q.jobs) > 0 {
			q.queued = true
			d.positions[key] = d.ready.PushBack(key)
		} else {
			delete(d.queues, key)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) dropPending() {
	d.mu.Lock()
	dropped := 0
	for key, q := range d.queues {
		dropped += len(q.jobs)
		q.jobs = nil
		if !q.running {
			delete(d.queues, key)
		}
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	for {
		select {
		case <-d.intake:
			dropped++
		default:
			d.active.Add(int64(-dropped))
			if dropped > 0 {
				d.logger.Warn("dispatcher closed with pending jobs", "dropped", dropped)
			}
			return
		}
	}
}

// Pending reports queued jobs per key, for debugging.
func (d *Dispatcher) Pending() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.queues))
	for key, q := range d.queues {
		out[key] = len(q.jobs)
	}
	return out
}
