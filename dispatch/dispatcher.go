package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
	"github.com/reglet-dev/reglet-workers/lifecycle"
)

// Dispatcher is the fixed-contract boundary the host invokes for each
// request or event. It is safe for concurrent use and meant to be long-lived.
type Dispatcher struct {
	ctrl     *lifecycle.Controller
	registry *Registry
	env      map[string]string
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a Dispatcher over ctrl using the method registry built at load.
func New(ctrl *lifecycle.Controller, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ctrl:     ctrl,
		registry: registry,
		tracer:   noop.NewTracerProvider().Tracer(""),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the method registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Generation returns the current module generation.
func (d *Dispatcher) Generation() entities.Generation {
	return d.ctrl.CurrentGeneration()
}

// Methods returns the synthesized method surface in sorted order.
func (d *Dispatcher) Methods() []string {
	return d.registry.Names()
}

// Fetch delivers an HTTP request to the module's fetch hook.
func (d *Dispatcher) Fetch(ctx context.Context, req *entities.Request) (*entities.Response, error) {
	env := d.envelope(ctx)
	env.Request = req

	var resp entities.Response
	if err := d.hook(ctx, HookFetch, env, &resp); err != nil {
		return nil, err
	}
	if resp.Status == 0 {
		resp.Status = 200
	}
	return &resp, nil
}

// Scheduled delivers a cron event to the module's scheduled hook.
func (d *Dispatcher) Scheduled(ctx context.Context, event entities.ScheduledEvent) error {
	env := d.envelope(ctx)
	env.Event = &event
	return d.hook(ctx, HookScheduled, env, nil)
}

// Queue delivers a message batch to the module's queue hook.
func (d *Dispatcher) Queue(ctx context.Context, batch entities.QueueBatch) error {
	env := d.envelope(ctx)
	env.Batch = &batch
	return d.hook(ctx, HookQueue, env, nil)
}

// Call invokes a registered symbol with JSON arguments and returns its JSON
// result. The symbol is resolved against the current generation on every
// call.
func (d *Dispatcher) Call(ctx context.Context, symbol string, args json.RawMessage) (json.RawMessage, error) {
	sym, ok := d.registry.Lookup(symbol)
	if !ok {
		return nil, &werrors.NotFoundError{Kind: "symbol", Name: symbol}
	}

	env := d.envelope(ctx)
	env.Args = args

	target := lifecycle.Target{Constructor: lifecycle.ModuleConstructor{}}
	if sym.Kind == SymbolRPC {
		target = d.rpcTarget(ctx, sym.Class)
	}

	var out json.RawMessage
	if err := d.invoke(ctx, "Call", target, sym.Export, env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// hook invokes one of the fixed lifecycle hooks. A pending fault is acted on
// before the hook is resolved.
func (d *Dispatcher) hook(ctx context.Context, name string, env entities.Envelope, out any) error {
	d.ctrl.CheckAndAdvance(ctx)

	if !d.registry.HasHook(name) {
		return &werrors.NotFoundError{Kind: "hook", Name: name}
	}
	target := lifecycle.Target{Constructor: lifecycle.ModuleConstructor{}}
	return d.invoke(ctx, name, target, name, env, out)
}

// invoke sends env to method on target and decodes the guest's result into out.
func (d *Dispatcher) invoke(
	ctx context.Context,
	op string,
	target lifecycle.Target,
	method string,
	env entities.Envelope,
	out any,
) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher/"+op, trace.WithAttributes(
		attribute.String("workers.key", target.Key.String()),
		attribute.String("workers.method", method),
	))
	defer span.End()

	payload, err := json.Marshal(env)
	if err != nil {
		return &werrors.WireFormatError{Err: err, Operation: "encode", Type: "Envelope"}
	}

	raw, err := d.ctrl.Invoke(ctx, target, method, payload)
	if err == nil {
		err = decodeResult(method, raw, out)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.DebugContext(ctx, "invocation failed",
			"key", target.Key.String(),
			"method", method,
			"category", werrors.CategoryOf(err),
			"request_id", env.Context.RequestID,
			"error", err)
		return err
	}
	return nil
}

func (d *Dispatcher) envelope(ctx context.Context) entities.Envelope {
	return entities.Envelope{Env: d.env, Context: wasmcontext.ContextToWire(ctx)}
}

// decodeResult unpacks a guest result envelope. An error envelope becomes an
// ApplicationError.
func decodeResult(export string, raw []byte, out any) error {
	var res entities.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return &werrors.WireFormatError{Err: err, Operation: "decode", Type: "Result"}
	}
	if res.Error != nil {
		return &werrors.ApplicationError{Export: export, Detail: res.Error}
	}
	if out == nil || len(res.OK) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.OK, out); err != nil {
		return &werrors.WireFormatError{Err: err, Operation: "decode", Type: export + " result"}
	}
	return nil
}
