package wasmcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/fault"
)

func TestContextToWire(t *testing.T) {
	// 1. Basic context
	ctx := WithRequestID(context.Background(), "req-123")
	wire := ContextToWire(ctx)
	assert.Equal(t, "req-123", wire.RequestID)
	assert.False(t, wire.Canceled)
	assert.Nil(t, wire.Deadline)
	assert.Zero(t, wire.TimeoutMs)
	assert.Zero(t, wire.Generation)

	// 2. Canceled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wire = ContextToWire(ctx)
	assert.True(t, wire.Canceled)

	// 3. Deadline context
	deadline := time.Now().Add(1 * time.Hour)
	ctx, cancel = context.WithDeadline(context.Background(), deadline)
	defer cancel()
	wire = ContextToWire(ctx)
	require.NotNil(t, wire.Deadline)
	assert.True(t, wire.Deadline.Equal(deadline))
	assert.Positive(t, wire.TimeoutMs)

	// 4. Inside a guest call
	wire = ContextToWire(fault.WithGeneration(context.Background(), 3))
	assert.Equal(t, entities.Generation(3), wire.Generation)
}

func TestWireToContext(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	ctx, cancel := WireToContext(nil, entities.ContextWire{Deadline: &deadline, RequestID: "req-9"})
	defer cancel()

	got, ok := ctx.Deadline()
	require.True(t, ok)
	assert.True(t, got.Equal(deadline))
	assert.Equal(t, "req-9", RequestIDFrom(ctx))

	ctx, cancel = WireToContext(context.Background(), entities.ContextWire{TimeoutMs: 50})
	defer cancel()
	_, ok = ctx.Deadline()
	assert.True(t, ok)

	ctx, cancel = WireToContext(context.Background(), entities.ContextWire{Canceled: true})
	defer cancel()
	assert.Error(t, ctx.Err())
}

func TestWireToContext_KeepsParentRequestID(t *testing.T) {
	parent := WithRequestID(context.Background(), "outer")
	ctx, cancel := WireToContext(parent, entities.ContextWire{RequestID: "inner"})
	defer cancel()
	assert.Equal(t, "outer", RequestIDFrom(ctx))
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, NewRequestID())
}

func TestState(t *testing.T) {
	_, ok := StateFrom(context.Background())
	assert.False(t, ok)
	assert.Equal(t, context.Background(), WithState(context.Background(), nil))

	ctx := WithState(context.Background(), &entities.StateHandle{Class: "Counter", ID: "a"})
	h, ok := StateFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "Counter", h.Class)
	assert.Equal(t, "a", h.ID)
}
