package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/reglet-dev/reglet-workers/dispatch"
	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/fault"
	"github.com/reglet-dev/reglet-workers/host"
	"github.com/reglet-dev/reglet-workers/hostfuncs"
	"github.com/reglet-dev/reglet-workers/infrastructure/memstore"
	"github.com/reglet-dev/reglet-workers/lifecycle"
)

const instrumentationName = "github.com/reglet-dev/reglet-workers"

// Runtime is one loaded worker: its compiled module, the generation-managed
// instance, and the dispatcher in front of it.
type Runtime struct {
	Manifest   *entities.Manifest
	Monitor    *fault.Monitor
	Metrics    *lifecycle.Metrics
	Executor   *host.Executor
	Controller *lifecycle.Controller
	Dispatcher *dispatch.Dispatcher

	store  ports.StateStore
	logger *slog.Logger
}

// Inspection is a point-in-time description of a loaded worker.
type Inspection struct {
	Name       string                 `json:"name"`
	Functions  []dispatch.Symbol      `json:"functions"`
	Classes    []dispatch.ClassInfo   `json:"classes"`
	Hooks      []string               `json:"hooks"`
	Records    []lifecycle.RecordInfo `json:"records"`
	ABIVersion int                    `json:"abi_version"`
	Generation entities.Generation    `json:"generation"`
	Faults     uint64                 `json:"faults"`
}

// New compiles wasm and wires a Runtime for manifest. Generation 1 is
// instantiated lazily by the first invocation.
func New(ctx context.Context, manifest *entities.Manifest, wasm []byte, opts ...Option) (*Runtime, error) {
	o := options{
		logger: slog.Default(),
		strict: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = memstore.New()
	}
	logger := o.logger.With("worker", manifest.Name)

	rt := &Runtime{Manifest: manifest, store: o.store, logger: logger}
	rt.Metrics = lifecycle.NewMetrics(o.registerer)
	rt.Monitor = fault.NewMonitor(
		fault.WithLogger(logger),
		fault.WithObserver(rt.Metrics.ObserveFault),
	)

	regOpts := []hostfuncs.RegistryOption{
		hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware(rt.Monitor.ReportHostPanic)),
		hostfuncs.WithMiddleware(hostfuncs.LoggingMiddleware(logger)),
		hostfuncs.WithMiddleware(hostfuncs.SizeLimitMiddleware(hostfuncs.MaxRequestBytes)),
		hostfuncs.WithBundle(hostfuncs.AllBundles(o.store, manifest.Env)),
	}
	for _, b := range o.bundles {
		regOpts = append(regOpts, hostfuncs.WithBundle(b))
	}
	hostFuncs, err := hostfuncs.NewRegistry(regOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("host functions: %w", err), o.store.Close())
	}

	execOpts := []host.Option{
		host.WithHostFunctions(hostFuncs),
		host.WithFaultReporter(rt.Monitor),
		host.WithLogger(logger),
	}
	if o.memoryLimitPages > 0 {
		execOpts = append(execOpts, host.WithMemoryLimitPages(o.memoryLimitPages))
	}
	if o.cacheDir != "" {
		execOpts = append(execOpts, host.WithCompilationCacheDir(o.cacheDir))
	}
	rt.Executor, err = host.NewExecutor(ctx, wasm, execOpts...)
	if err != nil {
		return nil, errors.Join(err, o.store.Close())
	}

	registry, err := dispatch.NewRegistry(manifest, rt.Executor.Exports(),
		dispatch.WithStrictMode(o.strict),
		dispatch.WithRegistryLogger(logger),
	)
	if err != nil {
		return nil, errors.Join(err, rt.Executor.Close(ctx), o.store.Close())
	}

	ctrlOpts := []lifecycle.Option{lifecycle.WithLogger(logger), lifecycle.WithMetrics(rt.Metrics)}
	dispOpts := []dispatch.Option{dispatch.WithEnv(manifest.Env), dispatch.WithLogger(logger)}
	if o.tracerProvider != nil {
		tracer := o.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(fmt.Sprintf("abi-v%d", dispatch.ABIVersion)))
		ctrlOpts = append(ctrlOpts, lifecycle.WithTracer(tracer))
		dispOpts = append(dispOpts, dispatch.WithTracer(tracer))
	}
	rt.Controller = lifecycle.NewController(rt.Executor, rt.Monitor, ctrlOpts...)
	rt.Dispatcher = dispatch.New(rt.Controller, registry, dispOpts...)

	logger.Info("worker loaded",
		"functions", len(registry.Symbols()),
		"classes", len(registry.Classes()),
	)
	return rt, nil
}

// Inspect describes the loaded worker.
func (rt *Runtime) Inspect() Inspection {
	registry := rt.Dispatcher.Registry()
	hooks := make([]string, 0, 3)
	for _, h := range []string{dispatch.HookFetch, dispatch.HookScheduled, dispatch.HookQueue} {
		if registry.HasHook(h) {
			hooks = append(hooks, h)
		}
	}
	return Inspection{
		Name:       rt.Manifest.Name,
		ABIVersion: dispatch.ABIVersion,
		Generation: rt.Controller.CurrentGeneration(),
		Functions:  registry.Symbols(),
		Classes:    registry.Classes(),
		Hooks:      hooks,
		Records:    rt.Controller.Records(),
		Faults:     rt.Monitor.Total(),
	}
}

// Close releases the runtime in reverse order of construction.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := rt.Controller.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close controller: %w", err))
	}
	if err := rt.Executor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close executor: %w", err))
	}
	if err := rt.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state store: %w", err))
	}
	err := errors.Join(errs...)
	if err == nil {
		rt.logger.Info("worker closed", "generation", uint64(rt.Controller.CurrentGeneration()))
	}
	return err
}
