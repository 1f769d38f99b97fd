package backend

import (
	"context"
	"sync"

	"github.com/fluxorio/runlog/pkg/operation"
)

// Mock is an in-memory Backend for tests and examples. It records every
// accepted operation and can be scripted to fail calls or reject operation
// types.
type Mock struct {
	mu sync.Mutex

	// failCalls makes the next n Execute calls fail with a transient
	// transport error before any operation is consumed.
	failCalls int

	// rejectTypes lists operation discriminators rejected per-op, the way a
	// backend refuses operations it does not support yet.
	rejectTypes map[string]bool

	// acceptLimit, when > 0, makes Execute consume at most that many
	// operations per call: AcceptedUpTo stops at the prefix and the rest of
	// the batch is not recorded, like a backend cutting a batch short.
	acceptLimit int

	calls   int
	batches [][]operation.Versioned
	ops     []operation.Versioned
}

// NewMock returns an accepting mock backend.
func NewMock() *Mock {
	return &Mock{rejectTypes: map[string]bool{}}
}

// FailNextCalls scripts the next n calls to fail transiently.
func (m *Mock) FailNextCalls(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCalls = n
}

// RejectType makes every operation of the given discriminator come back as a
// per-op permanent rejection.
func (m *Mock) RejectType(opType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectTypes[opType] = true
}

// AcceptAtMost caps how many operations each call consumes, so responses
// carry a genuine partial AcceptedUpTo. Zero restores full acceptance.
func (m *Mock) AcceptAtMost(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acceptLimit = n
}

// Execute implements Backend.
func (m *Mock) Execute(ctx context.Context, batch []operation.Versioned) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failCalls > 0 {
		m.failCalls--
		return Result{}, Transient(context.DeadlineExceeded)
	}
	if len(batch) == 0 {
		return Result{}, nil
	}

	accepted := batch
	if m.acceptLimit > 0 && m.acceptLimit < len(batch) {
		accepted = batch[:m.acceptLimit]
	}

	res := Result{}
	for _, v := range accepted {
		if m.rejectTypes[v.Op.OpType()] {
			res.Errors = append(res.Errors, OpError{
				Version: v.Version,
				Code:    "UNSUPPORTED_OPERATION",
				Message: v.Op.OpType() + " is not supported",
			})
		} else {
			m.ops = append(m.ops, v)
		}
		res.AcceptedUpTo = v.Version
	}
	m.batches = append(m.batches, append([]operation.Versioned(nil), accepted...))
	return res, nil
}

// Calls returns how many times Execute ran, including scripted failures.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Batches returns a copy of the accepted batches in submission order.
func (m *Mock) Batches() [][]operation.Versioned {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]operation.Versioned, len(m.batches))
	copy(out, m.batches)
	return out
}

// Operations returns every accepted operation in order, excluding those
// rejected per-op (Batches still includes them).
func (m *Mock) Operations() []operation.Versioned {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]operation.Versioned(nil), m.ops...)
}

var _ Backend = (*Mock)(nil)
