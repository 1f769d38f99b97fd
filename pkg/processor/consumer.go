package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/runlog/pkg/backend"
	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/core"
	"github.com/fluxorio/runlog/pkg/diskqueue"
	obsprom "github.com/fluxorio/runlog/pkg/observability/prometheus"
	"github.com/fluxorio/runlog/pkg/operation"
)

// ConsumerState is the background drainer's lifecycle position.
type ConsumerState int32

const (
	StateIdle ConsumerState = iota
	StateDraining
	StateSleeping
	StateStopping
	StateStopped
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateSleeping:
		return "sleeping"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type drainOutcome int

const (
	drainDrained drainOutcome = iota
	drainStopRequested
	drainTimedOut
	drainFatal
)

// consumer drains the disk queue into the backend: batches in version order,
// acknowledges only after confirmation, backs off exponentially on transient
// failures and gives up permanently after too many consecutive local I/O
// failures.
type consumer struct {
	queue *diskqueue.Queue
	be    backend.Backend
	cfg   config.Config
	log   core.Logger
	met   *obsprom.Metrics

	wakeCh   chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// stopTimeout is set by Stop before stopCh closes.
	stopTimeout atomic.Int64

	state         atomic.Int32
	acked         atomic.Uint64
	dropped       atomic.Uint64
	corruptedSeen uint64 // consumer goroutine only

	errMu    sync.Mutex
	fatalErr error
}

func newConsumer(queue *diskqueue.Queue, be backend.Backend, cfg config.Config,
	log core.Logger, met *obsprom.Metrics) *consumer {
	c := &consumer{
		queue:  queue,
		be:     be,
		cfg:    cfg,
		log:    log,
		met:    met,
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.stopTimeout.Store(int64(cfg.StopTimeout))
	return c
}

func (c *consumer) start() { go c.run() }

// wake nudges the loop out of its idle wait without blocking the caller.
func (c *consumer) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// stop requests shutdown and waits for the loop to finish, at most timeout.
func (c *consumer) stop(timeout time.Duration) {
	if timeout <= 0 {
		timeout = c.cfg.StopTimeout
	}
	c.stopOnce.Do(func() {
		c.stopTimeout.Store(int64(timeout))
		close(c.stopCh)
	})
	select {
	case <-c.done:
	case <-time.After(timeout + time.Second):
		c.log.Warnf("consumer did not stop within %v", timeout)
	}
}

func (c *consumer) setState(s ConsumerState) { c.state.Store(int32(s)) }

// State reports the loop's current position.
func (c *consumer) State() ConsumerState { return ConsumerState(c.state.Load()) }

// Err returns the fatal error that stopped the consumer, if any.
func (c *consumer) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.fatalErr
}

func (c *consumer) fail(err error) {
	c.errMu.Lock()
	c.fatalErr = err
	c.errMu.Unlock()
	c.log.Errorf("consumer stopped: %v", err)
}

func (c *consumer) run() {
	defer close(c.done)
	defer c.setState(StateStopped)

	timer := time.NewTimer(c.cfg.FlushPeriod)
	defer timer.Stop()
	ioFailures := 0

	for {
		c.setState(StateIdle)
		select {
		case <-c.stopCh:
			c.finalDrain(&ioFailures)
			return
		case <-c.wakeCh:
		case <-timer.C:
		}

		switch c.drain(time.Time{}, &ioFailures) {
		case drainFatal:
			return
		case drainStopRequested:
			c.finalDrain(&ioFailures)
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.cfg.FlushPeriod)
	}
}

// finalDrain pushes the remaining backlog synchronously, bounded by the
// stop timeout. Residual operations stay on disk for next-run recovery.
func (c *consumer) finalDrain(ioFailures *int) {
	c.setState(StateStopping)
	deadline := time.Now().Add(time.Duration(c.stopTimeout.Load()))
	switch c.drain(deadline, ioFailures) {
	case drainTimedOut:
		c.log.Warnf("stop timed out with %d bytes unsent; left on disk for recovery", c.queue.Size())
	case drainFatal:
	default:
	}
}

// drain submits batches until the queue is empty. A zero deadline means the
// loop runs until drained or stopped; a set deadline bounds a final drain.
func (c *consumer) drain(deadline time.Time, ioFailures *int) drainOutcome {
	c.setState(StateDraining)
	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return drainTimedOut
		}

		batch, err := c.queue.GetBatch(c.cfg.MaxBatchCount, c.cfg.MaxBatchBytes)
		if err != nil {
			*ioFailures++
			c.log.Errorf("queue read failed (%d consecutive): %v", *ioFailures, err)
			if *ioFailures >= c.cfg.MaxIOFailures {
				c.fail(err)
				return drainFatal
			}
			if !c.sleep(c.backoffDelay(*ioFailures-1), deadline) {
				return drainStopRequested
			}
			continue
		}
		*ioFailures = 0
		if cor := c.queue.Corrupted(); cor > c.corruptedSeen {
			delta := cor - c.corruptedSeen
			c.corruptedSeen = cor
			c.dropped.Add(delta)
			c.met.RecordDropped(c.cfg.Mode, obsprom.DropSerialization, int(delta))
		}
		if len(batch) == 0 {
			return drainDrained
		}

		switch out := c.submit(batch, deadline); out {
		case drainDrained:
			// Batch confirmed; keep going.
		default:
			return out
		}
	}
}

// submit delivers one batch, retrying transient failures with exponential
// backoff. An operation is acknowledged only after the backend confirmed
// acceptance; a crash before that replays it.
func (c *consumer) submit(batch []operation.Versioned, deadline time.Time) drainOutcome {
	attempt := 0
	for {
		ctx := context.Background()
		var cancel context.CancelFunc
		if !deadline.IsZero() {
			ctx, cancel = context.WithDeadline(ctx, deadline)
		}
		start := time.Now()
		res, err := c.be.Execute(ctx, batch)
		if cancel != nil {
			cancel()
		}

		switch {
		case err == nil:
			highest := batch[len(batch)-1].Version
			if res.AcceptedUpTo >= highest {
				c.ack(highest, len(batch), res.Errors)
				c.met.RecordBatch(c.cfg.Mode, obsprom.OutcomeSuccess, time.Since(start))
				return drainDrained
			}
			// Prefix accepted; acknowledge it and re-deliver the suffix.
			if res.AcceptedUpTo > 0 {
				accepted := 0
				for accepted < len(batch) && batch[accepted].Version <= res.AcceptedUpTo {
					accepted++
				}
				c.ack(res.AcceptedUpTo, accepted, res.Errors)
				batch = batch[accepted:]
			}
			c.met.RecordBatch(c.cfg.Mode, obsprom.OutcomeTransient, time.Since(start))
			attempt++
			if out := c.napBetweenRetries(attempt, deadline); out != drainDrained {
				return out
			}

		case backend.IsTransient(err):
			c.met.RecordBatch(c.cfg.Mode, obsprom.OutcomeTransient, time.Since(start))
			c.log.Warnf("batch submit failed, will retry: %v", err)
			attempt++
			if out := c.napBetweenRetries(attempt, deadline); out != drainDrained {
				return out
			}

		default:
			// Permanent batch rejection: the operations are consumed and
			// counted, never retried.
			c.met.RecordBatch(c.cfg.Mode, obsprom.OutcomePermanent, time.Since(start))
			c.log.Errorf("batch rejected permanently, dropping %d operations: %v", len(batch), err)
			highest := batch[len(batch)-1].Version
			c.dropped.Add(uint64(len(batch)))
			c.met.RecordDropped(c.cfg.Mode, obsprom.DropRejected, len(batch))
			if ackErr := c.queue.Ack(highest); ackErr != nil {
				c.log.Errorf("ack after rejection failed: %v", ackErr)
			}
			c.met.SetBacklog(c.cfg.Mode, c.queue.Size())
			return drainDrained
		}
	}
}

// napBetweenRetries sleeps with backoff; when interrupted by stop, the read
// cursor rewinds so the unconsumed batch is re-fetched by the final drain.
func (c *consumer) napBetweenRetries(attempt int, deadline time.Time) drainOutcome {
	if !deadline.IsZero() && time.Now().After(deadline) {
		c.queue.Rewind()
		return drainTimedOut
	}
	c.setState(StateSleeping)
	defer c.setState(StateDraining)
	if !c.sleep(c.backoffDelay(attempt-1), deadline) {
		c.queue.Rewind()
		return drainStopRequested
	}
	return drainDrained
}

// ack records confirmed progress: the cursor moves, per-op rejections are
// counted as dropped, the rest as acked.
func (c *consumer) ack(version uint64, count int, opErrs []backend.OpError) {
	rejected := 0
	for _, oe := range opErrs {
		if oe.Version <= version {
			rejected++
			c.log.Warnf("operation %d dropped by backend (%s): %s", oe.Version, oe.Code, oe.Message)
		}
	}
	if err := c.queue.Ack(version); err != nil {
		c.log.Errorf("ack failed: %v", err)
		return
	}
	c.acked.Add(uint64(count - rejected))
	c.dropped.Add(uint64(rejected))
	c.met.RecordAcked(c.cfg.Mode, count-rejected)
	if rejected > 0 {
		c.met.RecordDropped(c.cfg.Mode, obsprom.DropRejected, rejected)
	}
	c.met.SetBacklog(c.cfg.Mode, c.queue.Size())
}

// sleep waits for d or, during a normal drain, the stop signal. During a
// final drain (deadline set) the stop channel is already closed, so the wait
// is bounded by the deadline instead. Returns false when stop interrupted.
func (c *consumer) sleep(d time.Duration, deadline time.Time) bool {
	if !deadline.IsZero() {
		if remain := time.Until(deadline); remain < d {
			d = remain
		}
		if d > 0 {
			time.Sleep(d)
		}
		return true
	}
	if d <= 0 {
		return true
	}
	select {
	case <-c.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay grows the base delay exponentially, capped at MaxBackoff.
func (c *consumer) backoffDelay(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.MaxBackoff && c.cfg.MaxBackoff > 0 {
			return c.cfg.MaxBackoff
		}
	}
	if c.cfg.MaxBackoff > 0 && d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}
