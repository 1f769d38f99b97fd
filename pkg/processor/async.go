package processor

import (
	"sync"
	"time"

	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/container"
	"github.com/fluxorio/runlog/pkg/core"
	"github.com/fluxorio/runlog/pkg/diskqueue"
	obsprom "github.com/fluxorio/runlog/pkg/observability/prometheus"
	"github.com/fluxorio/runlog/pkg/operation"
)

// Async appends operations to the disk queue and returns immediately; a
// background consumer batches and submits them. The hot path never blocks
// on the network and never sees transient backend failures.
type Async struct {
	children
	queue    *diskqueue.Queue
	consumer *consumer
	log      core.Logger
	metrics  *obsprom.Metrics
	cfg      config.Config

	warnOnce sync.Once
	mu       sync.Mutex
	started  bool
	closed   bool
}

// AsyncStats is a point-in-time snapshot for asynchronous status reporting.
type AsyncStats struct {
	Queued       uint64
	Acked        uint64
	Dropped      uint64
	BacklogBytes int64
	State        ConsumerState
	Err          error
}

// NewAsync builds the asynchronous variant. Call Start to launch the
// consumer.
func NewAsync(opts Options) (*Async, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}
	be, err := opts.resolveBackend()
	if err != nil {
		return nil, err
	}
	ch, err := makeChildren(&opts)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.WithFields(map[string]interface{}{
		"mode": config.ModeAsync, "container": string(opts.ContainerID),
	})
	queue, err := diskqueue.Open(diskqueue.Config{
		Dir:             ch.dataPath,
		MaxSegmentBytes: opts.Config.MaxSegmentBytes,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	return &Async{
		children: ch,
		queue:    queue,
		consumer: newConsumer(queue, be, opts.Config, log, opts.Metrics),
		log:      log,
		metrics:  opts.Metrics,
		cfg:      opts.Config,
	}, nil
}

// Start launches the background consumer. Idempotent.
func (p *Async) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return nil
	}
	p.started = true
	p.consumer.start()
	return nil
}

// Process appends the operation and returns. Local queue failures surface;
// backend failures never do.
func (p *Async) Process(op operation.Operation) error {
	if _, err := p.queue.Put(op); err != nil {
		return err
	}
	p.metrics.RecordEnqueued(config.ModeAsync, 1)

	size := p.queue.Size()
	p.metrics.SetBacklog(config.ModeAsync, size)
	if p.cfg.MaxQueueBytes > 0 && size > p.cfg.MaxQueueBytes {
		p.warnOnce.Do(func() {
			p.log.Warnf("queue backlog %d bytes exceeds %d; operations keep accumulating on disk",
				size, p.cfg.MaxQueueBytes)
		})
	}

	// Nudge the consumer once a full batch is waiting.
	if p.cfg.MaxBatchCount > 0 &&
		p.queue.LastPutVersion()-p.queue.LastAckVersion() >= uint64(p.cfg.MaxBatchCount) {
		p.consumer.wake()
	}
	return nil
}

// Flush makes the queue durable, wakes the consumer and blocks until every
// operation processed before the call is confirmed, or until the timeout
// elapses. Timeouts are not errors.
func (p *Async) Flush(timeout time.Duration) error {
	if err := p.queue.Flush(); err != nil {
		return err
	}
	if err := p.storage.Flush(); err != nil {
		return err
	}
	if err := p.metadata.Flush(); err != nil {
		return err
	}

	target := p.queue.LastPutVersion()
	if timeout <= 0 {
		timeout = p.cfg.StopTimeout
	}
	deadline := time.Now().Add(timeout)
	for p.queue.LastAckVersion() < target {
		if p.consumer.State() == StateStopped {
			return nil
		}
		if time.Now().After(deadline) {
			p.log.Warnf("flush timed out waiting for version %d (acked %d)",
				target, p.queue.LastAckVersion())
			return nil
		}
		p.consumer.wake()
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Stop drains up to timeout, then closes children. The directory and any
// residual operations are preserved for next-run recovery.
func (p *Async) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if err := p.queue.Flush(); err != nil {
		p.log.Warnf("flush on stop failed: %v", err)
	}
	if started {
		p.consumer.stop(timeout)
	}
	if err := p.queue.Close(); err != nil {
		p.log.Warnf("queue close failed: %v", err)
	}
	if err := p.storage.Close(); err != nil {
		p.log.Warnf("storage close failed: %v", err)
	}
	if err := p.metadata.Close(); err != nil {
		p.log.Warnf("metadata close failed: %v", err)
	}
	return nil
}

// Stats reports delivery progress for asynchronous status reporting.
func (p *Async) Stats() AsyncStats {
	return AsyncStats{
		Queued:       p.queue.LastPutVersion(),
		Acked:        p.consumer.acked.Load(),
		Dropped:      p.consumer.dropped.Load(),
		BacklogBytes: p.queue.Size(),
		State:        p.consumer.State(),
		Err:          p.consumer.Err(),
	}
}

// DataPath returns the processor directory.
func (p *Async) DataPath() string { return p.dataPath }

// Storage exposes the blob staging area for upload operations.
func (p *Async) Storage() *container.OperationStorage { return p.storage }

var _ Processor = (*Async)(nil)
