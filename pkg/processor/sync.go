package processor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fluxorio/runlog/pkg/backend"
	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/container"
	"github.com/fluxorio/runlog/pkg/core"
	obsprom "github.com/fluxorio/runlog/pkg/observability/prometheus"
	"github.com/fluxorio/runlog/pkg/operation"
)

// Sync submits every operation inline as a singleton batch and returns only
// after the backend acknowledged it. Nothing is persisted beyond metadata
// and staged blobs; its directory is removed again on Stop.
type Sync struct {
	children
	backend backend.Backend
	log     core.Logger
	metrics *obsprom.Metrics

	mu          sync.Mutex
	nextVersion uint64
	closed      bool
}

// NewSync builds the synchronous variant.
func NewSync(opts Options) (*Sync, error) {
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
	return &Sync{
		children: ch,
		backend:  be,
		log: opts.Logger.WithFields(map[string]interface{}{
			"mode": config.ModeSync, "container": string(opts.ContainerID),
		}),
		metrics: opts.Metrics,
	}, nil
}

// Process submits [(next_version, op)] and blocks for the confirmation.
// Backend failures propagate to the caller; the processor does not retry.
func (p *Sync) Process(op operation.Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	version := p.nextVersion + 1
	batch := []operation.Versioned{{Version: version, Op: op}}

	res, err := p.backend.Execute(context.Background(), batch)
	if err != nil {
		return err
	}
	p.nextVersion = version
	p.metrics.RecordEnqueued(config.ModeSync, 1)

	if len(res.Errors) > 0 {
		p.metrics.RecordDropped(config.ModeSync, obsprom.DropRejected, len(res.Errors))
		return res.Errors[0]
	}
	p.metrics.RecordAcked(config.ModeSync, 1)
	return nil
}

// Start is a no-op; construction did all the work.
func (p *Sync) Start() error { return nil }

// Flush flushes the metadata file and the blob staging area.
func (p *Sync) Flush(time.Duration) error {
	if err := p.metadata.Flush(); err != nil {
		return err
	}
	return p.storage.Flush()
}

// Stop flushes, closes and cleans up all children, then removes the data
// directory. Cleanup failures (a non-empty directory, permissions) are
// logged and swallowed.
func (p *Sync) Stop(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.Flush(0); err != nil {
		p.log.Warnf("flush on stop failed: %v", err)
	}
	if err := p.metadata.Close(); err != nil {
		p.log.Warnf("metadata close failed: %v", err)
	}
	if err := p.storage.Close(); err != nil {
		p.log.Warnf("storage close failed: %v", err)
	}
	p.cleanup()
	return nil
}

func (p *Sync) cleanup() {
	if err := p.metadata.Cleanup(); err != nil {
		p.log.Warnf("metadata cleanup failed: %v", err)
	}
	if err := p.storage.Cleanup(); err != nil {
		p.log.Warnf("storage cleanup failed: %v", err)
	}
	if err := os.Remove(p.dataPath); err != nil && !os.IsNotExist(err) {
		p.log.Warnf("could not remove %s: %v", p.dataPath, err)
	}
}

// DataPath returns the processor directory.
func (p *Sync) DataPath() string { return p.dataPath }

// Storage exposes the blob staging area for upload operations.
func (p *Sync) Storage() *container.OperationStorage { return p.storage }

var _ Processor = (*Sync)(nil)
