package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/fault"
	"github.com/reglet-dev/reglet-workers/internal/testutil"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
	"github.com/reglet-dev/reglet-workers/lifecycle"
)

type fixture struct {
	d     *Dispatcher
	guest *testutil.CounterGuest
	ctrl  *lifecycle.Controller
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	guest := testutil.NewCounterGuest()
	monitor := fault.NewMonitor()
	guest.Reporter = monitor

	ctrl := lifecycle.NewController(guest, monitor)
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })

	registry, err := NewRegistry(testManifest(), guest.Exports())
	require.NoError(t, err)

	return &fixture{d: New(ctrl, registry, opts...), guest: guest, ctrl: ctrl}
}

func get(path string) *entities.Request {
	return &entities.Request{Method: "GET", URL: "https://worker.test" + path}
}

func TestDispatcher_Fetch(t *testing.T) {
	f := newFixture(t)

	resp, err := f.d.Fetch(context.Background(), get("/counter"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "1", resp.Body)

	resp, err = f.d.Fetch(context.Background(), get("/nowhere"))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status)
}

func TestDispatcher_FetchPassesEnv(t *testing.T) {
	f := newFixture(t, WithEnv(map[string]string{"GREETING": "hello"}))

	resp, err := f.d.Fetch(context.Background(), get("/env"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Body)
}

func TestDispatcher_ApplicationErrorIsTransparent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Fetch(ctx, get("/throw"))

	var appErr *werrors.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "thrown by handler", appErr.Detail.Message)
	assert.Equal(t, "fetch", appErr.Export)

	resp, err := f.d.Fetch(ctx, get("/counter"))
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Body, "state survives application errors")
	assert.Equal(t, entities.Generation(1), f.d.Generation())
	assert.Len(t, f.guest.Instances(), 1)
}

func TestDispatcher_CriticalFaultRebuildsModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var bodies []string
	for _, path := range []string{"/counter", "/counter", "/fault", "/counter"} {
		resp, err := f.d.Fetch(ctx, get(path))
		if err != nil {
			assert.Equal(t, werrors.CategoryCritical, werrors.CategoryOf(err))
			bodies = append(bodies, "<failure>")
			continue
		}
		bodies = append(bodies, resp.Body)
	}

	assert.Equal(t, []string{"1", "2", "<failure>", "1"}, bodies)
	assert.Equal(t, entities.Generation(2), f.d.Generation())
}

func TestDispatcher_DurableObjectScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ns, err := f.d.Namespace("Counter")
	require.NoError(t, err)
	stub := ns.Get(ns.IDFromName("room-1"))

	var bodies []string
	for _, path := range []string{"/counter", "/counter", "/fault", "/counter"} {
		resp, err := stub.Fetch(ctx, get(path))
		if err != nil {
			var crit *werrors.CriticalFaultError
			require.ErrorAs(t, err, &crit)
			bodies = append(bodies, "<failure>")
			continue
		}
		bodies = append(bodies, resp.Body)
	}

	assert.Equal(t, []string{"1", "2", "<failure>", "1"}, bodies)
}

func TestDispatcher_ConcurrentFaultAndCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ns, err := f.d.Namespace("Counter")
	require.NoError(t, err)
	stub := ns.Get(ns.IDFromName("room-1"))

	var mu sync.Mutex
	var failures, successes int
	var g errgroup.Group
	for _, path := range []string{"/fault", "/counter", "/counter"} {
		g.Go(func() error {
			resp, err := stub.Fetch(ctx, get(path))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return nil
			}
			if resp.Status == 200 {
				successes++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, successes)
}

func TestDispatcher_InnocentCallsAfterFaultSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.d.Fetch(ctx, get("/oob"))
	require.Error(t, err)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.d.Call(ctx, "echo", json.RawMessage(`{"n":1}`))
			return err
		})
	}
	require.NoError(t, g.Wait(), "no call started after the fault may fail")
	assert.Equal(t, entities.Generation(2), f.d.Generation())
	assert.Zero(t, f.guest.Instances()[1].Overlaps())
}

func TestDispatcher_AbortCarriesGuestMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Fetch(context.Background(), get("/abort"))

	var crit *werrors.CriticalFaultError
	require.ErrorAs(t, err, &crit)
	assert.Equal(t, entities.FaultReported, crit.Kind)
	assert.Equal(t, "panicked at 'explicit abort'", crit.Message)
}

func TestDispatcher_ScheduledAndQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.d.Scheduled(ctx, entities.ScheduledEvent{Cron: "*/5 * * * *", ScheduledTime: time.Now()}))
	require.NoError(t, f.d.Queue(ctx, entities.QueueBatch{
		Queue: "jobs",
		Messages: []entities.QueueMessage{
			{ID: "1", Body: json.RawMessage(`"a"`)},
			{ID: "2", Body: json.RawMessage(`"b"`)},
		},
	}))

	m := f.guest.Instances()[0]
	assert.Equal(t, 1, m.Global("scheduled"))
	assert.Equal(t, 2, m.Global("messages"))

	err := f.d.Scheduled(ctx, entities.ScheduledEvent{Cron: "fault"})
	assert.True(t, fault.IsCritical(err))

	require.NoError(t, f.d.Scheduled(ctx, entities.ScheduledEvent{Cron: "@daily"}))
	assert.Equal(t, 1, f.guest.Instances()[1].Global("scheduled"), "the rebuilt instance starts fresh")
}

func TestDispatcher_MissingHook(t *testing.T) {
	f := newFixture(t)
	delete(f.guest.Functions, HookQueue)
	registry, err := NewRegistry(testManifest(), f.guest.Exports())
	require.NoError(t, err)
	d := New(f.ctrl, registry)

	err = d.Queue(context.Background(), entities.QueueBatch{Queue: "jobs"})
	var nf *werrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "hook", nf.Kind)
}

func TestDispatcher_Call(t *testing.T) {
	f := newFixture(t)
	ctx := wasmcontext.WithRequestID(context.Background(), "req-1")

	out, err := f.d.Call(ctx, "echo", json.RawMessage(`{"hello":"world"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(out))

	_, err = f.d.Call(ctx, "fetch", nil)
	var nf *werrors.NotFoundError
	require.ErrorAs(t, err, &nf, "reserved hooks are not callable as symbols")

	_, err = f.d.Call(ctx, "nope", nil)
	require.ErrorAs(t, err, &nf)

	assert.Equal(t, []string{"add", "calls", "echo", "origin", "slow", "slow_fault", "trap"}, f.d.Methods())
}

func TestDispatcher_RPC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.d.Call(ctx, "add", json.RawMessage(`[1,2,3]`))
	require.NoError(t, err)
	assert.JSONEq(t, `6`, string(out))

	_, err = f.d.Call(ctx, "add", json.RawMessage(`"x"`))
	var appErr *werrors.ApplicationError
	require.ErrorAs(t, err, &appErr)

	for want := 1; want <= 3; want++ {
		out, err = f.d.Call(ctx, "calls", nil)
		require.NoError(t, err)
		assert.JSONEq(t, string(rune('0'+want)), string(out), "one cached instance per class")
	}
	assert.Equal(t, 1, f.guest.Instances()[0].Global("calc_constructed"))

	_, err = f.d.Call(ctx, "trap", nil)
	require.Error(t, err)

	out, err = f.d.Call(ctx, "calls", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(out), "the RPC instance is rebuilt after a fault")
	assert.Equal(t, 1, f.guest.Instances()[1].Global("calc_constructed"))

	assert.Len(t, f.d.RPCMethods(), 3)
}

func TestDispatcher_RPCRebuildUsesCurrentContext(t *testing.T) {
	f := newFixture(t)

	first := wasmcontext.WithRequestID(context.Background(), "req-1")
	out, err := f.d.Call(first, "origin", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"req-1"`, string(out))

	_, err = f.d.Call(first, "trap", nil)
	require.Error(t, err)

	second := wasmcontext.WithRequestID(context.Background(), "req-2")
	out, err = f.d.Call(second, "origin", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"req-2"`, string(out), "the rebuilt instance is bound to the call that built it")
	assert.Equal(t, entities.Generation(2), f.d.Generation())
}

func TestNamespace(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Namespace("Calc")
	require.Error(t, err, "RPC classes have no namespace")

	ns, err := f.d.Namespace("Counter")
	require.NoError(t, err)

	a := ns.IDFromName("alpha")
	assert.Equal(t, a, ns.IDFromName("alpha"))
	assert.NotEqual(t, a.ID, ns.IDFromName("beta").ID)
	assert.Equal(t, byte(5), byte(a.ID.Version()))

	parsed, err := ns.IDFromString(a.String())
	require.NoError(t, err)
	assert.Equal(t, a.ID, parsed.ID)

	_, err = ns.IDFromString("not-an-id")
	require.Error(t, err)

	u1, err := ns.NewUniqueID()
	require.NoError(t, err)
	u2, err := ns.NewUniqueID()
	require.NoError(t, err)
	assert.NotEqual(t, u1, u2)
}

func TestStub(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ns, err := f.d.Namespace("Counter")
	require.NoError(t, err)
	a := ns.Get(ns.IDFromName("a"))
	b := ns.Get(ns.IDFromName("b"))

	for i := 0; i < 2; i++ {
		_, err = a.Call(ctx, "increment", nil)
		require.NoError(t, err)
	}
	out, err := b.Call(ctx, "increment", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(out), "objects do not share state")

	out, err = a.Call(ctx, "state", nil)
	require.NoError(t, err)
	var state entities.StateHandle
	require.NoError(t, json.Unmarshal(out, &state))
	assert.Equal(t, entities.StateHandle{Class: "Counter", ID: a.ID().String(), Name: "a"}, state)

	require.NoError(t, a.Alarm(ctx))

	_, err = a.Call(ctx, "free", nil)
	var nf *werrors.NotFoundError
	require.ErrorAs(t, err, &nf)

	assert.Equal(t, []string{"alarm", "fetch", "increment", "state"}, a.Methods())
}
