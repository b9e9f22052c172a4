package host_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/fault"
	"github.com/reglet-dev/reglet-workers/host"
	"github.com/reglet-dev/reglet-workers/hostfuncs"
	"github.com/reglet-dev/reglet-workers/infrastructure/memstore"
	"github.com/reglet-dev/reglet-workers/internal/testutil"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
)

type harness struct {
	exec    *host.Executor
	monitor *fault.Monitor
	store   *memstore.Store
	logs    *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{monitor: fault.NewMonitor(), store: memstore.New(), logs: &bytes.Buffer{}}
	registry, err := hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware(h.monitor.ReportHostPanic)),
		hostfuncs.WithBundle(hostfuncs.StorageBundle(h.store)),
	)
	require.NoError(t, err)

	h.exec, err = host.NewExecutor(ctx, testutil.CounterWasm(),
		host.WithHostFunctions(registry),
		host.WithFaultReporter(h.monitor),
		host.WithLogger(slog.New(slog.NewTextHandler(h.logs, nil))),
		host.WithMemoryLimitPages(16),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.exec.Close(ctx) })
	return h
}

func (h *harness) instance(t *testing.T) ports.Module {
	t.Helper()
	mod, err := h.exec.Instantiate(context.Background())
	require.NoError(t, err)
	return mod
}

func body(t *testing.T, raw []byte) string {
	t.Helper()
	var res struct {
		OK entities.Response `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 200, res.OK.Status)
	return res.OK.Body
}

func TestNewExecutor_RejectsInvalidModule(t *testing.T) {
	_, err := host.NewExecutor(context.Background(), []byte("not wasm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile module")
}

func TestExecutor_Exports(t *testing.T) {
	h := newHarness(t)

	byName := make(map[string]entities.ExportInfo)
	for _, e := range h.exec.Exports() {
		byName[e.Name] = e
	}

	assert.Equal(t, entities.ExportInfo{Name: "fetch", Params: []string{"i32", "i32"}, Results: []string{"i64"}}, byName["fetch"])
	assert.Equal(t, []string{"i32"}, byName["Counter.new"].Results)
	assert.Equal(t, 3, byName["Counter.fetch"].Arity())
	assert.Contains(t, byName, "allocate")
	assert.Contains(t, byName, "_initialize")
}

func TestInstance_FreshStatePerInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.instance(t)
	for _, want := range []string{"1", "2"} {
		raw, err := first.Call(ctx, "fetch", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, want, body(t, raw))
	}

	second := h.instance(t)
	raw, err := second.Call(ctx, "fetch", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "1", body(t, raw), "a new instance starts from clean globals")

	require.NoError(t, first.Close(ctx))
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
}

func TestInstance_TrapIsCritical(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mod := h.instance(t)

	_, err := mod.Call(ctx, "fault", []byte(`{}`))
	require.Error(t, err)

	rec := fault.Classify(err)
	assert.Equal(t, entities.Critical, rec.Classification)
	assert.Equal(t, entities.FaultAbort, rec.Kind)
	assert.Equal(t, "unreachable", rec.Message)
}

func TestInstance_ReportFaultCarriesGuestMessage(t *testing.T) {
	h := newHarness(t)
	ctx := fault.WithGeneration(context.Background(), 3)
	mod := h.instance(t)

	_, err := mod.Call(ctx, "abort", []byte(`{}`))
	require.Error(t, err)

	rec := h.monitor.Observe(ctx, err)
	assert.Equal(t, entities.FaultReported, rec.Kind)
	assert.Equal(t, "panicked at 'explicit abort'", rec.Message)
	assert.Equal(t, entities.Generation(3), rec.Generation)
	assert.Equal(t, uint64(1), h.monitor.Total(), "the trap after the report is not counted twice")
}

func TestInstance_ApplicationErrorIsReturnedAsResult(t *testing.T) {
	h := newHarness(t)
	mod := h.instance(t)

	raw, err := mod.Call(context.Background(), "throw", []byte(`{}`))
	require.NoError(t, err)

	var res entities.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "thrown by handler", res.Error.Message)
}

func TestInstance_Objects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mod := h.instance(t)

	handle, err := mod.New(ctx, "Counter.new", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(testutil.CounterObjectHandle), handle)

	for _, want := range []string{"1", "2", "3"} {
		raw, err := mod.CallObject(ctx, "Counter.fetch", handle, []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, want, body(t, raw))
	}

	_, err = mod.CallObject(ctx, "Counter.crash", handle, nil)
	assert.True(t, fault.IsCritical(err))
}

func TestInstance_StorageIsScopedToObject(t *testing.T) {
	h := newHarness(t)
	mod := h.instance(t)
	state := entities.StateHandle{Class: "Counter", ID: "room-1"}
	ctx := wasmcontext.WithState(context.Background(), &state)

	raw, err := mod.CallObject(ctx, "Counter.store", testutil.CounterObjectHandle, nil)
	require.NoError(t, err)

	var got hostfuncs.StorageGetResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, hostfuncs.StorageGetResponse{Value: "1", Found: true}, got)

	v, found, err := h.store.Get(ctx, state, "visits")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(v))

	raw, err = mod.CallObject(context.Background(), "Counter.store", testutil.CounterObjectHandle, nil)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "UNSCOPED", "storage outside an object is refused, not trapped")
}

func TestInstance_LogMessage(t *testing.T) {
	h := newHarness(t)
	ctx := wasmcontext.WithRequestID(context.Background(), "req-42")

	_, err := h.instance(t).Call(ctx, "log", []byte(`{}`))
	require.NoError(t, err)

	out := h.logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="from guest"`)
	assert.Contains(t, out, "request_id=req-42")
	assert.Contains(t, out, "n=1")
}

func TestInstance_DeadlineClosesInstance(t *testing.T) {
	h := newHarness(t)
	mod := h.instance(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := mod.Call(ctx, "spin", []byte(`{}`))
	require.Error(t, err)

	rec := fault.Classify(err)
	assert.Equal(t, entities.FaultClosed, rec.Kind)
	assert.True(t, mod.Closed())

	_, err = mod.Call(context.Background(), "fetch", []byte(`{}`))
	require.ErrorIs(t, err, werrors.ErrModuleClosed)
}

func TestInstance_MissingExport(t *testing.T) {
	h := newHarness(t)
	mod := h.instance(t)

	assert.True(t, mod.HasExport("fetch"))
	assert.False(t, mod.HasExport("queue"))

	_, err := mod.Call(context.Background(), "queue", nil)
	var nf *werrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "queue", nf.Name)
}
