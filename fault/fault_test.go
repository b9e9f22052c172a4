package fault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/sys"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		class   entities.FaultClassification
		kind    entities.FaultKind
		message string
	}{
		{
			name:    "application error",
			err:     &werrors.ApplicationError{Export: "fetch", Detail: &entities.ErrorDetail{Message: "nope", Type: "Error"}},
			class:   entities.Benign,
			kind:    entities.FaultApplication,
			message: "nope",
		},
		{
			name:    "plain host error",
			err:     errors.New("storage unavailable"),
			class:   entities.Benign,
			kind:    entities.FaultApplication,
			message: "storage unavailable",
		},
		{
			name:    "unreachable",
			err:     errors.New("wasm error: unreachable\nwasm stack trace:\n\t.fault()"),
			class:   entities.Critical,
			kind:    entities.FaultAbort,
			message: "unreachable",
		},
		{
			name:    "out of bounds",
			err:     fmt.Errorf("call fetch: %w", errors.New("wasm error: out of bounds memory access\nwasm stack trace:\n\t.fetch(i32,i32)")),
			class:   entities.Critical,
			kind:    entities.FaultTrap,
			message: "out of bounds memory access",
		},
		{
			name:    "exit error",
			err:     sys.NewExitError(sys.ExitCodeContextCanceled),
			class:   entities.Critical,
			kind:    entities.FaultClosed,
			message: "module closed with exit code 4294967295",
		},
		{
			name:  "module closed",
			err:   fmt.Errorf("call: %w", werrors.ErrModuleClosed),
			class: entities.Critical,
			kind:  entities.FaultClosed,
		},
		{
			name:    "out of memory",
			err:     &werrors.OutOfMemoryError{Requested: 64},
			class:   entities.Critical,
			kind:    entities.FaultOutOfMemory,
			message: "guest allocation of 64 bytes failed",
		},
		{
			name:    "host panic",
			err:     errors.New("host-function panic (recovered by wazero)\nwasm stack trace:\n\tworker_host.storage_get(i64) i64"),
			class:   entities.Critical,
			kind:    entities.FaultPanic,
			message: "host-function panic",
		},
		{
			name:    "result outside memory",
			err:     &werrors.MemoryError{Op: "read", Offset: 1 << 20, Length: 8, Size: 65536},
			class:   entities.Critical,
			kind:    entities.FaultTrap,
			message: "guest memory read out of range: offset 1048576, length 8, memory size 65536",
		},
		{
			name: "critical fault already wrapped",
			err: &werrors.RebuildError{Key: entities.InstanceKey{Class: "Counter"}, Err: &werrors.CriticalFaultError{
				Kind: entities.FaultAbort, Message: "unreachable", Generation: 3,
			}},
			class:   entities.Critical,
			kind:    entities.FaultAbort,
			message: "unreachable",
		},
		{
			name:  "reported",
			err:   fmt.Errorf("%w: panicked at src/lib.rs:10", werrors.ErrFaultReported),
			class: entities.Critical,
			kind:  entities.FaultReported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Classify(tt.err)
			assert.Equal(t, tt.class, rec.Classification)
			assert.Equal(t, tt.kind, rec.Kind)
			if tt.message != "" {
				assert.Equal(t, tt.message, rec.Message)
			}
			assert.Equal(t, tt.class == entities.Critical, IsCritical(tt.err))
		})
	}
}

func TestClassify_ApplicationErrorWinsOverTrapText(t *testing.T) {
	// A guest that throws an error whose message mentions a trap is still benign.
	err := &werrors.ApplicationError{
		Export: "fetch",
		Detail: &entities.ErrorDetail{Message: "wasm error: unreachable", Type: "Error"},
	}
	assert.False(t, IsCritical(err))
}

func TestMonitor_ObserveBenignLeavesFlagClear(t *testing.T) {
	m := NewMonitor()
	ctx := WithGeneration(context.Background(), 1)

	class := m.ObserveHostTrap(ctx, errors.New("not found"))

	assert.Equal(t, entities.Benign, class)
	assert.False(t, m.Pending())
	_, ok := m.Take()
	assert.False(t, ok)
}

func TestMonitor_ObserveCriticalSetsPending(t *testing.T) {
	var observed []entities.FaultRecord
	m := NewMonitor(WithObserver(func(r entities.FaultRecord) { observed = append(observed, r) }))
	ctx := WithGeneration(context.Background(), 4)

	class := m.ObserveHostTrap(ctx, errors.New("wasm error: unreachable"))

	assert.Equal(t, entities.Critical, class)
	assert.True(t, m.Pending())

	rec, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, entities.Generation(4), rec.Generation)
	assert.False(t, m.Pending())
	require.Len(t, observed, 1)
	assert.Equal(t, entities.FaultAbort, observed[0].Kind)
}

func TestMonitor_ReportCriticalTakesPrecedence(t *testing.T) {
	m := NewMonitor()
	ctx := WithGeneration(context.Background(), 2)

	m.ReportCritical(ctx, "panicked at 'index out of bounds'")
	rec := m.Observe(ctx, errors.New("wasm error: unreachable"))

	assert.Equal(t, entities.FaultReported, rec.Kind)
	assert.Equal(t, "panicked at 'index out of bounds'", rec.Message)
	assert.Equal(t, uint64(1), m.Total())

	reported, ok := ReportedFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, entities.Generation(2), reported.Generation)
}

func TestMonitor_ConcurrentFaultsCoalesce(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ObserveHostTrap(WithGeneration(context.Background(), 7), errors.New("wasm error: unreachable"))
		}()
	}
	wg.Wait()

	rec, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, entities.Generation(7), rec.Generation)
	assert.Equal(t, uint64(16), m.Total())

	_, ok = m.Take()
	assert.False(t, ok, "coalesced faults are consumed by a single Take")
}

func TestMonitor_NewerGenerationReplacesPending(t *testing.T) {
	m := NewMonitor()

	m.ReportCritical(WithGeneration(context.Background(), 3), "old")
	m.ReportCritical(WithGeneration(context.Background(), 5), "new")
	m.ReportCritical(WithGeneration(context.Background(), 4), "stale")

	rec, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, entities.Generation(5), rec.Generation)
	assert.Equal(t, "new", rec.Message)
}

func TestGenerationFrom(t *testing.T) {
	_, ok := GenerationFrom(context.Background())
	assert.False(t, ok)

	gen, ok := GenerationFrom(WithGeneration(context.Background(), 9))
	require.True(t, ok)
	assert.Equal(t, entities.Generation(9), gen)
}
