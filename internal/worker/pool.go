package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type workerMeta struct {
	id        int
	ch        chan task
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

// workerPool grows to max workers on demand and retires idle ones above min.
type workerPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan task]*workerMeta
	min      int
	max      int
	running  int
	nextID   int
	expiry   time.Duration
	ctx      context.Context
	logger   *slog.Logger
}

const defaultWorkerIdle = 30 * time.Second

func newWorkerPool(ctx context.Context, minWorkers, maxWorkers int, idle time.Duration, logger *slog.Logger) *workerPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if logger == nil {
		logger = slog.Default()
	}
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &workerPool{
		metadata: make(map[chan task]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		ctx:      ctx,
		logger:   logger,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// spawnLocked registers a new worker; callers hold p.mu.
func (p *workerPool) spawnLocked() *Worker {
	p.nextID++
	w := newWorker(p.nextID, p, p.ctx, p.logger)
	p.metadata[w.tasks] = &workerMeta{id: w.id, ch: w.tasks}
	p.running++
	return w
}

// warmUp starts min workers and parks them as idle.
func (p *workerPool) warmUp() {
	p.mu.Lock()
	var started []*Worker
	for p.running < p.min {
		started = append(started, p.spawnLocked())
	}
	p.mu.Unlock()
	for _, w := range started {
		w.Start()
		p.release(w.tasks)
	}
}

// acquire returns an idle worker, spawning one when under max, or waits.
func (p *workerPool) acquire() chan task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.ctx.Err() != nil {
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			return meta.ch
		}
		if p.running < p.max {
			w := p.spawnLocked()
			w.Start()
			return w.tasks
		}
		p.cond.Wait()
	}
}

func (p *workerPool) workerID(ch chan task) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if meta, ok := p.metadata[ch]; ok {
		return meta.id
	}
	return 0
}

// release puts a worker back into the idle queue. False means the worker
// was retired and should exit.
func (p *workerPool) release(ch chan task) bool {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded {
		p.mu.Unlock()
		return false
	}
	if meta.enqueued {
		p.mu.Unlock()
		return true
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

func (p *workerPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *workerPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.stopAll()
			return
		case <-ticker.C:
			p.shutdownExpired()
		}
	}
}

// shutdownExpired retires idle workers past expiry, never dropping below min.
func (p *workerPool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	for _, meta := range stale {
		delete(p.metadata, meta.ch)
		p.running--
	}
	p.mu.Unlock()

	for _, meta := range stale {
		meta.ch <- task{stop: true}
	}
}

// stopAll stops idle workers. Busy ones exit once their job returns.
func (p *workerPool) stopAll() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	for _, meta := range p.metadata {
		meta.discarded = true
	}
	p.metadata = make(map[chan task]*workerMeta)
	p.running = 0
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, meta := range idle {
		meta.ch <- task{stop: true}
	}
}

func (p *workerPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
