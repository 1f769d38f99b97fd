package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/runlog/pkg/core"
)

func TestPoolRunsJobs(t *testing.T) {
	p, err := NewPool(4, 16, core.NopLogger())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.Start()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			done.Add(1)
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if done.Load() != 10 {
		t.Fatalf("ran %d jobs, want 10", done.Load())
	}
	p.Stop(context.Background())
}

func TestPoolBackpressure(t *testing.T) {
	p, err := NewPool(1, 1, core.NopLogger())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.Start()
	defer p.Stop(context.Background())

	block := make(chan struct{})
	defer close(block)
	// Occupy the single worker, then fill the single queue slot.
	if err := p.Submit(func() { <-block }); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		err := p.Submit(func() { <-block })
		if err == ErrBackpressure {
			break
		}
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("never hit backpressure")
		default:
		}
	}
}

func TestPoolStopRejectsSubmit(t *testing.T) {
	p, err := NewPool(1, 1, core.NopLogger())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.Start()
	p.Stop(context.Background())

	if err := p.Submit(func() {}); err != ErrClosed {
		t.Fatalf("Submit after stop: %v, want ErrClosed", err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p, err := NewPool(1, 4, core.NopLogger())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.Start()

	var after atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	_ = p.Submit(func() { panic("boom") })
	_ = p.Submit(func() {
		defer wg.Done()
		after.Store(true)
	})
	wg.Wait()
	if !after.Load() {
		t.Fatal("worker died after panic")
	}
	p.Stop(context.Background())
}

func TestNewPoolValidatesWorkers(t *testing.T) {
	if _, err := NewPool(0, 1, core.NopLogger()); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
