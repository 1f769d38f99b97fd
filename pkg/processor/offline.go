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

// Offline appends every operation to the disk queue and never talks to a
// backend. Stop preserves the directory: the artifacts are the deliverable,
// replayed later by the sync tool.
type Offline struct {
	children
	queue   *diskqueue.Queue
	log     core.Logger
	metrics *obsprom.Metrics

	warnOnce sync.Once
	maxBytes int64
	closed   bool
}

// NewOffline builds the offline variant. The optional advisory lock in opts
// serializes directory creation with other subsystems in this process.
func NewOffline(opts Options) (*Offline, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}
	ch, err := makeChildren(&opts)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.WithFields(map[string]interface{}{
		"mode": config.ModeOffline, "container": string(opts.ContainerID),
	})
	queue, err := diskqueue.Open(diskqueue.Config{
		Dir:             ch.dataPath,
		MaxSegmentBytes: opts.Config.MaxSegmentBytes,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	return &Offline{
		children: ch,
		queue:    queue,
		log:      log,
		metrics:  opts.Metrics,
		maxBytes: opts.Config.MaxQueueBytes,
	}, nil
}

// Process appends the operation and returns.
func (p *Offline) Process(op operation.Operation) error {
	if _, err := p.queue.Put(op); err != nil {
		return err
	}
	p.metrics.RecordEnqueued(config.ModeOffline, 1)
	p.metrics.SetBacklog(config.ModeOffline, p.queue.Size())
	if p.maxBytes > 0 && p.queue.Size() > p.maxBytes {
		p.warnOnce.Do(func() {
			p.log.Warnf("offline queue exceeds %d bytes; artifacts keep growing until synced", p.maxBytes)
		})
	}
	return nil
}

// Start is a no-op; there is no background consumer.
func (p *Offline) Start() error { return nil }

// Flush makes the queue durable and flushes the sidecar files.
func (p *Offline) Flush(time.Duration) error {
	if err := p.queue.Flush(); err != nil {
		return err
	}
	if err := p.storage.Flush(); err != nil {
		return err
	}
	return p.metadata.Flush()
}

// Stop flushes and closes children. It deliberately does not clean up.
func (p *Offline) Stop(time.Duration) error {
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.Flush(0); err != nil {
		p.log.Warnf("flush on stop failed: %v", err)
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

// DataPath returns the processor directory.
func (p *Offline) DataPath() string { return p.dataPath }

// Storage exposes the blob staging area for upload operations.
func (p *Offline) Storage() *container.OperationStorage { return p.storage }

var _ Processor = (*Offline)(nil)
