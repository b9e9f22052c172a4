package lifecycle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/fault"
)

// Factory builds live objects from a constructor and its arguments.
// It carries no state of its own.
type Factory struct {
	tracer trace.Tracer
}

// NewFactory creates a Factory. A nil tracer disables tracing.
func NewFactory(tracer trace.Tracer) *Factory {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Factory{tracer: tracer}
}

// Construct builds the live object for key inside mod.
func (f *Factory) Construct(
	ctx context.Context,
	mod ports.Module,
	key entities.InstanceKey,
	ctor ports.Constructor,
	args entities.ConstructorArgs,
) (ports.Object, error) {
	ctx, span := f.tracer.Start(ctx, "Factory/Construct", trace.WithAttributes(
		attribute.String("workers.key", key.String()),
		attribute.String("workers.constructor", ctor.Name()),
	))
	defer span.End()

	if gen, ok := fault.GenerationFrom(ctx); ok {
		args.Context.Generation = gen
	}

	obj, err := ctor.Construct(ctx, mod, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return obj, nil
}

// ModuleConstructor binds the module instance itself as the live object.
// Method names are plain function exports.
type ModuleConstructor struct{}

// Name implements ports.Constructor.
func (ModuleConstructor) Name() string { return "module" }

// Construct implements ports.Constructor.
func (ModuleConstructor) Construct(_ context.Context, mod ports.Module, _ entities.ConstructorArgs) (ports.Object, error) {
	return moduleObject{mod: mod}, nil
}

type moduleObject struct {
	mod ports.Module
}

func (o moduleObject) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return o.mod.Call(ctx, method, payload)
}
