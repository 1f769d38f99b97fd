// Package replay drains offline processor artifacts into a backend: the
// external counterpart of offline mode. Containers are replayed in parallel
// on a worker pool; within one container, version order is preserved and
// progress is recorded through the queue's own ack cursor, so an interrupted
// replay resumes where it left off.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fluxorio/runlog/pkg/backend"
	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/container"
	"github.com/fluxorio/runlog/pkg/core"
	"github.com/fluxorio/runlog/pkg/diskqueue"
	"github.com/fluxorio/runlog/pkg/worker"
)

// Options configures a replay run.
type Options struct {
	// Root is the data root; containers are found under <Root>/offline.
	Root string

	Backend backend.Backend

	// Workers bounds container-level parallelism; 0 selects 4.
	Workers int

	// MaxBatchCount and MaxBatchBytes bound each submission; zero values
	// select the pipeline defaults.
	MaxBatchCount int
	MaxBatchBytes int64

	// BackoffBase and MaxBackoff shape transient-failure retries.
	BackoffBase time.Duration
	MaxBackoff  time.Duration

	Logger core.Logger
}

// Result is the outcome for one container directory.
type Result struct {
	DataPath string
	Metadata container.Metadata
	Replayed int
	Dropped  int
	Err      error
}

// Run replays every offline container under the root. It returns one Result
// per container; per-container failures are reported there, not as the
// run-level error.
func Run(ctx context.Context, opts Options) ([]Result, error) {
	if opts.Backend == nil {
		return nil, &core.Error{Code: "INVALID_INPUT", Message: "replay needs a backend"}
	}
	if opts.Logger == nil {
		opts.Logger = core.NewDefaultLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	defaults := config.Default()
	if opts.MaxBatchCount <= 0 {
		opts.MaxBatchCount = defaults.MaxBatchCount
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = defaults.MaxBatchBytes
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaults.BackoffBase
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}

	dirs, err := listContainerDirs(container.ResolveRoot(opts.Root))
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, nil
	}

	pool, err := worker.NewPool(opts.Workers, len(dirs), opts.Logger)
	if err != nil {
		return nil, err
	}
	pool.Start()
	defer pool.Stop(context.Background())

	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)
	for _, dir := range dirs {
		dir := dir
		wg.Add(1)
		job := func() {
			defer wg.Done()
			res := replayContainer(ctx, dir, opts)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}
		if err := pool.Submit(job); err != nil {
			// The queue is sized to the directory count, so this is a stop
			// race; record it rather than lose the container silently.
			wg.Done()
			mu.Lock()
			results = append(results, Result{DataPath: dir, Err: err})
			mu.Unlock()
		}
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].DataPath < results[j].DataPath })
	return results, nil
}

// listContainerDirs finds offline DataPaths that carry a metadata record.
func listContainerDirs(root string) ([]string, error) {
	offlineDir := filepath.Join(root, config.ModeOffline)
	ents, err := os.ReadDir(offlineDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(offlineDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, container.MetadataFileName)); err != nil {
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

func replayContainer(ctx context.Context, dir string, opts Options) Result {
	res := Result{DataPath: dir}
	log := opts.Logger.WithFields(map[string]interface{}{"dir": dir})

	md, err := container.ReadMetadata(dir)
	if err != nil {
		res.Err = err
		return res
	}
	res.Metadata = md

	q, err := diskqueue.Open(diskqueue.Config{Dir: dir, Logger: log})
	if err != nil {
		res.Err = err
		return res
	}
	defer func() { _ = q.Close() }()

	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		batch, err := q.GetBatch(opts.MaxBatchCount, opts.MaxBatchBytes)
		if err != nil {
			res.Err = err
			return res
		}
		if len(batch) == 0 {
			return res
		}

		attempt := 0
		nap := func(cause string) error {
			attempt++
			delay := opts.BackoffBase << (attempt - 1)
			if delay > opts.MaxBackoff {
				delay = opts.MaxBackoff
			}
			log.Warnf("replay submit %s, retrying in %v", cause, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				return nil
			}
		}

		for len(batch) > 0 {
			r, err := opts.Backend.Execute(ctx, batch)
			switch {
			case err == nil:
				// The backend confirms a prefix; acknowledge only that and
				// re-deliver the rest. Acking past AcceptedUpTo would drop
				// operations the backend never saw.
				ackTo := r.AcceptedUpTo
				if highest := batch[len(batch)-1].Version; ackTo > highest {
					ackTo = highest
				}
				if ackTo > 0 {
					accepted := 0
					for accepted < len(batch) && batch[accepted].Version <= ackTo {
						accepted++
					}
					rejected := 0
					for _, oe := range r.Errors {
						if oe.Version <= ackTo {
							rejected++
						}
					}
					if ackErr := q.Ack(ackTo); ackErr != nil {
						res.Err = ackErr
						return res
					}
					res.Replayed += accepted - rejected
					res.Dropped += rejected
					batch = batch[accepted:]
				}
				if len(batch) > 0 {
					if err := nap(fmt.Sprintf("accepted only up to %d", r.AcceptedUpTo)); err != nil {
						res.Err = err
						return res
					}
				}

			case !backend.IsTransient(err):
				// Permanent rejection: consume the batch so a re-run does
				// not wedge on it forever.
				log.Errorf("batch rejected permanently, dropping %d operations: %v", len(batch), err)
				highest := batch[len(batch)-1].Version
				if ackErr := q.Ack(highest); ackErr != nil {
					res.Err = ackErr
					return res
				}
				res.Dropped += len(batch)
				batch = nil

			default:
				if err := nap(fmt.Sprintf("failed (%v)", err)); err != nil {
					res.Err = err
					return res
				}
			}
		}
	}
}
