// Package processor orchestrates the pipeline: it accepts operations from
// user code and delivers them to a backend. Three variants share one
// contract: Sync submits inline, Offline persists for later replay, Async
// persists and drains in the background.
package processor

import (
	"sync"
	"time"

	"github.com/fluxorio/runlog/pkg/backend"
	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/container"
	"github.com/fluxorio/runlog/pkg/core"
	obsprom "github.com/fluxorio/runlog/pkg/observability/prometheus"
	"github.com/fluxorio/runlog/pkg/operation"
)

// Processor is the pipeline entry point user code holds.
type Processor interface {
	// Process accepts one operation. Async and Offline return once the
	// operation is appended to the local queue; Sync returns after the
	// backend confirmed it.
	Process(op operation.Operation) error

	// Start activates background work. A no-op for Sync and Offline.
	Start() error

	// Flush pushes pending state to disk and, for Async, blocks until the
	// backend confirmed everything processed before the call, or until the
	// timeout elapses. It never fails on timeout.
	Flush(timeout time.Duration) error

	// Stop flushes, halts background work and releases resources. Cleanup
	// failures are logged, never returned.
	Stop(timeout time.Duration) error

	// DataPath returns the processor's private directory.
	DataPath() string
}

// Options assembles a processor.
type Options struct {
	Config        config.Config
	ContainerType container.Type
	ContainerID   container.ID

	// Backend is required for sync and async modes. When nil and
	// Config.BackendURL is set, an HTTP backend is built from the config.
	Backend backend.Backend

	// Lock is an advisory caller-supplied mutex serializing processor
	// creation within one process. Optional.
	Lock sync.Locker

	Logger  core.Logger
	Metrics *obsprom.Metrics
}

// New builds the processor variant selected by Config.Mode. Unknown modes
// fail with a config error.
func New(opts Options) (Processor, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	switch opts.Config.Mode {
	case config.ModeSync:
		return NewSync(opts)
	case config.ModeAsync:
		return NewAsync(opts)
	case config.ModeOffline:
		return NewOffline(opts)
	}
	// Unreachable: Validate covers the enum.
	return nil, core.Errorc("CONFIG", "unknown connection mode %q", opts.Config.Mode)
}

func (o *Options) fill() error {
	if o.Logger == nil {
		o.Logger = core.NewDefaultLogger()
	}
	if o.Metrics == nil {
		o.Metrics = obsprom.GetMetrics()
	}
	if !o.ContainerType.Valid() {
		return core.Errorc("CONFIG", "unknown container type %q", o.ContainerType)
	}
	if o.ContainerID == "" {
		return core.Errorc("CONFIG", "container id is required")
	}
	return nil
}

// resolveBackend returns the injected backend or builds the HTTP client.
func (o *Options) resolveBackend() (backend.Backend, error) {
	if o.Backend != nil {
		return o.Backend, nil
	}
	if o.Config.BackendURL == "" {
		return nil, core.Errorc("CONFIG", "%s mode needs a backend: set BackendURL or inject one", o.Config.Mode)
	}
	return backend.NewHTTP(backend.HTTPConfig{
		BaseURL:  o.Config.BackendURL,
		APIToken: o.Config.APIToken,
		Project:  o.Config.Project,
		Logger:   o.Logger,
	})
}

// children bundles the disk artifacts every variant owns.
type children struct {
	dataPath string
	metadata *container.MetadataFile
	storage  *container.OperationStorage
}

func makeChildren(opts *Options) (children, error) {
	if opts.Lock != nil {
		opts.Lock.Lock()
		defer opts.Lock.Unlock()
	}

	root := container.ResolveRoot(opts.Config.DataDirectory)
	dataPath, err := container.MakeDataPath(root, opts.Config.Mode, opts.ContainerType, opts.ContainerID)
	if err != nil {
		return children{}, err
	}
	metadata, err := container.NewMetadataFile(dataPath,
		container.NewMetadata(opts.Config.Mode, opts.ContainerType, opts.ContainerID))
	if err != nil {
		return children{}, err
	}
	storage, err := container.NewOperationStorage(dataPath)
	if err != nil {
		return children{}, err
	}
	return children{dataPath: dataPath, metadata: metadata, storage: storage}, nil
}
