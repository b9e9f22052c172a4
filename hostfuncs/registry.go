package hostfuncs

import (
	"context"
	"fmt"
	"sort"
)

// DefaultMaxRequestSize bounds the request a guest may hand to a host
// function (1MB).
const DefaultMaxRequestSize = 1 << 20

// HandlerRegistry is an immutable set of named host functions. Lookups take
// no locks, so one registry serves every module instance.
type HandlerRegistry struct {
	handlers map[string]ByteHandler
	names    []string
}

// RegistryOption configures a HandlerRegistry under construction.
type RegistryOption func(*registryBuilder)

type registryBuilder struct {
	handlers   map[string]ByteHandler
	middleware []Middleware
	errors     []error
}

// NewRegistry builds a registry. Registering a name twice is an error.
//
//	registry, err := hostfuncs.NewRegistry(
//	    hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware(monitor.ReportHostPanic)),
//	    hostfuncs.WithBundle(hostfuncs.StorageBundle(store)),
//	    hostfuncs.WithBundle(hostfuncs.EnvBundle(env)),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	b := &registryBuilder{handlers: make(map[string]ByteHandler)}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	names := make([]string, 0, len(b.handlers))
	wrapped := make(map[string]ByteHandler, len(b.handlers))
	for name, h := range b.handlers {
		names = append(names, name)
		// The first middleware registered ends up outermost.
		for i := len(b.middleware) - 1; i >= 0; i-- {
			h = b.middleware[i](h)
		}
		wrapped[name] = h
	}
	sort.Strings(names)

	return &HandlerRegistry{handlers: wrapped, names: names}, nil
}

// Invoke serves a call to the host function name. An unknown name yields a
// NOT_FOUND ErrorResponse, not a Go error.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	h, ok := r.handlers[name]
	if !ok {
		return NewNotFoundError(name).ToJSON(), nil
	}
	return h(HostContextFrom(ctx, name), payload)
}

// Has reports whether name is registered.
func (r *HandlerRegistry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *HandlerRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

func (b *registryBuilder) add(name string, h ByteHandler) {
	switch {
	case name == "":
		b.errors = append(b.errors, fmt.Errorf("handler name cannot be empty"))
	case b.handlers[name] != nil:
		b.errors = append(b.errors, fmt.Errorf("duplicate handler name: %q", name))
	default:
		b.handlers[name] = h
	}
}

// WithByteHandler registers a raw handler.
func WithByteHandler(name string, h ByteHandler) RegistryOption {
	return func(b *registryBuilder) { b.add(name, h) }
}

// WithHandler registers a typed handler with JSON encoding.
func WithHandler[Req any, Resp any](name string, fn HostFunc[Req, Resp]) RegistryOption {
	return func(b *registryBuilder) { b.add(name, NewJSONHandler(fn)) }
}

// WithBundle registers every handler of bundle.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(b *registryBuilder) {
		handlers := bundle.Handlers()
		names := make([]string, 0, len(handlers))
		for name := range handlers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.add(name, handlers[name])
		}
	}
}

// WithMiddleware appends middleware. Middleware wraps in registration order.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
