package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/runlog/pkg/operation"
)

func TestTransientClassification(t *testing.T) {
	err := Transient(errors.New("connection refused"))
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.False(t, IsTransient(nil))
}

func TestMockAcceptsInOrder(t *testing.T) {
	m := NewMock()
	batch := []operation.Versioned{
		{Version: 1, Op: &operation.AssignFloat{Path: operation.Path{"loss"}, Value: 0.5}},
		{Version: 2, Op: &operation.AssignFloat{Path: operation.Path{"loss"}, Value: 0.4}},
	}

	res, err := m.Execute(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.AcceptedUpTo)
	assert.Empty(t, res.Errors)
	assert.Len(t, m.Operations(), 2)
	assert.Equal(t, 1, m.Calls())
}

func TestMockScriptedFailures(t *testing.T) {
	m := NewMock()
	m.FailNextCalls(2)
	batch := []operation.Versioned{{Version: 1, Op: &operation.DeleteAttribute{Path: operation.Path{"x"}}}}

	for i := 0; i < 2; i++ {
		_, err := m.Execute(context.Background(), batch)
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	}
	res, err := m.Execute(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.AcceptedUpTo)
	assert.Equal(t, 3, m.Calls())
}

func TestMockPartialAcceptance(t *testing.T) {
	m := NewMock()
	m.AcceptAtMost(2)

	batch := []operation.Versioned{
		{Version: 1, Op: &operation.AssignInt{Path: operation.Path{"a"}, Value: 1}},
		{Version: 2, Op: &operation.AssignInt{Path: operation.Path{"b"}, Value: 2}},
		{Version: 3, Op: &operation.AssignInt{Path: operation.Path{"c"}, Value: 3}},
	}
	res, err := m.Execute(context.Background(), batch)
	require.NoError(t, err)

	// Only the prefix is consumed; version 3 was never seen.
	assert.Equal(t, uint64(2), res.AcceptedUpTo)
	assert.Len(t, m.Operations(), 2)

	res, err = m.Execute(context.Background(), batch[2:])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.AcceptedUpTo)
	assert.Len(t, m.Operations(), 3)
}

func TestMockPerOpRejection(t *testing.T) {
	m := NewMock()
	m.RejectType(operation.TypeRemoveStrings)

	batch := []operation.Versioned{
		{Version: 1, Op: &operation.AddStrings{Path: operation.Path{"sys", "tags"}, Values: []string{"a"}}},
		{Version: 2, Op: &operation.RemoveStrings{Path: operation.Path{"sys", "tags"}, Values: []string{"a"}}},
		{Version: 3, Op: &operation.AssignInt{Path: operation.Path{"epoch"}, Value: 1}},
	}
	res, err := m.Execute(context.Background(), batch)
	require.NoError(t, err)

	// The rejected operation is still consumed: the whole batch is accepted.
	assert.Equal(t, uint64(3), res.AcceptedUpTo)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, uint64(2), res.Errors[0].Version)
	assert.Len(t, m.Operations(), 2)
}
