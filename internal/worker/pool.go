package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Job is one pipeline run. It is never cancelled by the pool.
type Job func(ctx context.Context)

// Pool runs each job on its own goroutine. Go never blocks the caller: the
// semaphore is acquired inside the goroutine, so at most size jobs execute at
// once and the rest wait for a slot.
type Pool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	inFlight atomic.Int64
	log      zerolog.Logger
	onChange func(running int)
}

func NewPool(size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
		log.Warn().Int("default_count", size).Msg("invalid worker count specified, using default")
	}
	return &Pool{sem: make(chan struct{}, size), log: log}
}

// OnChange registers a callback observing the number of running jobs.
func (p *Pool) OnChange(fn func(running int)) {
	p.onChange = fn
}

func (p *Pool) Go(name string, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		p.changed(p.inFlight.Add(1))
		defer func() { p.changed(p.inFlight.Add(-1)) }()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Str("job", name).Interface("panic", r).Msg("job panicked")
			}
		}()
		job(context.Background())
	}()
	return nil
}

// Running returns the number of jobs currently holding a slot.
func (p *Pool) Running() int {
	return int(p.inFlight.Load())
}

// Shutdown stops accepting jobs and waits for in-flight ones, or until ctx is
// done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) changed(n int64) {
	if p.onChange != nil {
		p.onChange(int(n))
	}
}
