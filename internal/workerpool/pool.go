// Package workerpool runs jobs on a fixed set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Job is a unit of work. The context passed to Run is the pool's base
// context and is not cancelled by Close, so in-progress jobs finish.
type Job func(ctx context.Context) error

// Pool is a fixed-size worker pool. Lifecycle: New -> Submit* -> Close.
type Pool struct {
	ctx     context.Context
	jobs    chan Job
	onError func(error)

	mu     sync.RWMutex
	closed bool

	wg   sync.WaitGroup
	once sync.Once
}

// Option customises a Pool.
type Option func(*Pool)

// WithErrorHandler receives job errors and recovered panics. Handlers run on
// worker goroutines and must be safe for concurrent use.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pool) { p.onError = fn }
}

// WithQueueSize sets the job buffer size (default: the worker count).
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.jobs = make(chan Job, n)
		}
	}
}

// New starts workers goroutines (minimum 1).
func New(ctx context.Context, workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p := &Pool{ctx: ctx, jobs: make(chan Job, workers)}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.run(job); err != nil && p.onError != nil {
			p.onError(err)
		}
	}
}

func (p *Pool) run(job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return job(p.ctx)
}

// Submit queues job, blocking while the queue is full. It returns ctx.Err()
// if ctx ends first and ErrClosed once Close has been called.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return nil
	}
	// The read lock keeps Close from closing the channel mid-send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, lets workers drain the queue, and waits for
// them to exit. It is idempotent.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
