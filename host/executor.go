package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/hostfuncs"
	wz "github.com/reglet-dev/reglet-workers/infrastructure/wazero"
)

const initializeExport = "_initialize"

var _ ports.ModuleFactory = (*Executor)(nil)

// Executor owns the wazero runtime and the compiled worker module.
type Executor struct {
	runtime          wazero.Runtime
	compiled         wazero.CompiledModule
	cache            wazero.CompilationCache
	registry         *hostfuncs.HandlerRegistry
	reporter         ports.FaultReporter
	logger           *slog.Logger
	cacheDir         string
	exports          []entities.ExportInfo
	memoryLimitPages uint32
}

// NewExecutor compiles wasm and links the host functions it imports.
func NewExecutor(ctx context.Context, wasm []byte, opts ...Option) (*Executor, error) {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		reg, err := hostfuncs.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to create default registry: %w", err)
		}
		e.registry = reg
	}

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if e.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(e.memoryLimitPages)
	}
	if e.cacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("open compilation cache: %w", err)
		}
		e.cache = cache
		cfg = cfg.WithCompilationCache(cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, e.runtime)

	if err := wz.RegisterWithRuntime(ctx, e.runtime, e.registry,
		wz.WithLogger(e.logger),
		wz.WithCustomHandler(logMessageHandler(e.logger)),
		wz.WithCustomHandler(reportFaultHandler(e.reporter, e.logger)),
	); err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}
	e.compiled = compiled
	e.exports = exportInfo(compiled.ExportedFunctions())

	return e, nil
}

// Instantiate creates a fresh, anonymous instance of the compiled module and
// runs its _initialize export, if any.
func (e *Executor) Instantiate(ctx context.Context) (ports.Module, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	if init := mod.ExportedFunction(initializeExport); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("failed to call %s: %w", initializeExport, err)
		}
	}

	return &Instance{module: mod}, nil
}

// Exports implements ports.ModuleFactory.
func (e *Executor) Exports() []entities.ExportInfo {
	return append([]entities.ExportInfo(nil), e.exports...)
}

// Close releases the runtime, every instance, and the compilation cache.
func (e *Executor) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

func exportInfo(defs map[string]api.FunctionDefinition) []entities.ExportInfo {
	out := make([]entities.ExportInfo, 0, len(defs))
	for name, def := range defs {
		out = append(out, entities.ExportInfo{
			Name:    name,
			Params:  typeNames(def.ParamTypes()),
			Results: typeNames(def.ResultTypes()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func typeNames(types []api.ValueType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return names
}
