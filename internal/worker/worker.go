package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
)

// Job is one unit of work. Jobs sharing a Key never run concurrently.
type Job struct {
	Key string
	Run func(ctx context.Context)
}

type task struct {
	job  Job
	done func()
	stop bool
}

type Worker struct {
	id     int
	pool   *workerPool
	ctx    context.Context
	logger *slog.Logger
	tasks  chan task
}

func newWorker(id int, pool *workerPool, ctx context.Context, logger *slog.Logger) *Worker {
	return &Worker{
		id:     id,
		pool:   pool,
		ctx:    ctx,
		logger: logger,
		tasks:  make(chan task),
	}
}

func (w *Worker) Start() {
	go func() {
		for t := range w.tasks {
			if t.stop {
				debugLog("[worker-%d] stopped", w.id)
				return
			}
			w.run(t)
			if !w.pool.release(w.tasks) {
				return
			}
		}
	}()
}

func (w *Worker) run(t task) {
	defer t.done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker job panicked", "key", t.job.Key, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	debugLog("[worker-%d] run job for %s", w.id, t.job.Key)
	t.job.Run(w.ctx)
}
