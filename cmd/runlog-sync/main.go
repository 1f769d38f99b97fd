// runlog-sync replays offline run artifacts to a backend. It is the
// external counterpart of offline mode: point it at a data root and it
// drains every container found under <root>/offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/runlog/pkg/backend"
	"github.com/fluxorio/runlog/pkg/config"
	"github.com/fluxorio/runlog/pkg/core"
	"github.com/fluxorio/runlog/pkg/replay"
)

func main() {
	var (
		root    = flag.String("root", "", "data root (default: NEPTUNE_DATA_DIRECTORY or ./.neptune)")
		url     = flag.String("backend", "", "backend base URL (default: NEPTUNE_BACKEND_URL)")
		workers = flag.Int("workers", 4, "containers replayed in parallel")
	)
	flag.Parse()

	logger := core.NewDefaultLogger()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Errorf("configuration: %v", err)
		os.Exit(1)
	}
	if *root == "" {
		*root = cfg.DataDirectory
	}
	if *url == "" {
		*url = cfg.BackendURL
	}

	be, err := backend.NewHTTP(backend.HTTPConfig{
		BaseURL:  *url,
		APIToken: cfg.APIToken,
		Project:  cfg.Project,
		Logger:   logger,
	})
	if err != nil {
		logger.Errorf("backend: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := replay.Run(ctx, replay.Options{
		Root:          *root,
		Backend:       be,
		Workers:       *workers,
		MaxBatchCount: cfg.MaxBatchCount,
		MaxBatchBytes: cfg.MaxBatchBytes,
		BackoffBase:   cfg.BackoffBase,
		MaxBackoff:    cfg.MaxBackoff,
		Logger:        logger,
	})
	if err != nil {
		logger.Errorf("replay: %v", err)
		os.Exit(1)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Errorf("%s: %v", r.DataPath, r.Err)
			continue
		}
		fmt.Printf("%s: replayed %d, dropped %d\n", r.DataPath, r.Replayed, r.Dropped)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
