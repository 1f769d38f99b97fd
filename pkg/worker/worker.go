// Package worker provides a fixed-size pool of goroutines for blocking
// tasks, used by the offline replayer to process containers in parallel.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxorio/runlog/pkg/core"
)

var (
	// ErrClosed is returned by Submit after Stop.
	ErrClosed = errors.New("worker pool is closed")

	// ErrBackpressure is returned by Submit when the job queue is full.
	ErrBackpressure = errors.New("worker pool queue is full")
)

// Job represents a task to be executed by a worker.
type Job func()

// Status represents the current status of the Pool.
type Status struct {
	NumWorkers    int
	QueueSize     int
	QueueCapacity int
}

// Pool is a fixed-size pool of goroutines.
type Pool struct {
	jobs    chan Job
	stop    chan struct{}
	workers int
	wg      sync.WaitGroup
	log     core.Logger
}

// NewPool creates a Pool with a given number of workers and job queue size.
func NewPool(workers, queueSize int, logger core.Logger) (*Pool, error) {
	if workers <= 0 {
		return nil, &core.Error{Code: "INVALID_INPUT", Message: "number of workers must be positive"}
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Pool{
		jobs:    make(chan Job, queueSize),
		stop:    make(chan struct{}),
		workers: workers,
		log:     logger,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.run()
	}
}

// Stop closes the pool and waits for in-flight and queued jobs to finish,
// or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) {
	close(p.stop)
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warnf("worker pool stop timed out with %d queued jobs", len(p.jobs))
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Errorf("worker job panicked: %v", r)
				}
			}()
			job()
		}()
	}
}

// Submit sends a job to the pool. It returns ErrBackpressure when the job
// queue is full rather than blocking the caller.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.stop:
		return ErrClosed
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.stop:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Status returns the current status of the pool.
func (p *Pool) Status() Status {
	return Status{
		NumWorkers:    p.workers,
		QueueSize:     len(p.jobs),
		QueueCapacity: cap(p.jobs),
	}
}
