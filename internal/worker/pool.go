package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/digkill/skechum/internal/metrics"
)

// ErrStopped is returned by Submit once the pool is shutting down.
var ErrStopped = errors.New("worker pool stopped")

type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	log  *slog.Logger
	wg   sync.WaitGroup
	jobs chan Task

	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewPool(n, queue int, log *slog.Logger) *Pool {
	if n <= 0 {
		n = 1
	}
	if queue <= 0 {
		queue = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{log: log, jobs: make(chan Task, queue), ctx: ctx, cancel: cancel}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
				p.run(job)
			}
		}()
	}
	return p
}

func (p *Pool) run(job Task) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("worker task panicked", "panic", rec)
		}
	}()
	job(p.ctx)
}

// Submit enqueues f. It never blocks: a full queue drops the task.
func (p *Pool) Submit(f Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- f:
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		p.log.Warn("worker queue full, dropping task")
		return errors.New("worker queue full")
	}
}

// Stop drains queued tasks and waits for workers. If ctx expires first the
// running tasks see their context cancelled.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}
