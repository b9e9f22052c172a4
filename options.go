package workers

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/hostfuncs"
)

type options struct {
	logger           *slog.Logger
	bundles          []hostfuncs.HostFuncBundle
	store            ports.StateStore
	registerer       prometheus.Registerer
	tracerProvider   trace.TracerProvider
	cacheDir         string
	memoryLimitPages uint32
	strict           bool
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStateStore sets the store behind the storage host functions. The
// Runtime takes ownership and closes it last.
func WithStateStore(s ports.StateStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithMetricsRegisterer registers the lifecycle collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider enables invocation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMemoryLimitPages caps each instance's linear memory.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = pages
	}
}

// WithCompilationCacheDir persists compiled code across runs.
func WithCompilationCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithStrictRegistry makes a symbol collision a load error. It is on by
// default; when off the first registration wins.
func WithStrictRegistry(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithHostBundle registers extra host functions next to the built-in
// storage and env functions. A name clash is a load error.
func WithHostBundle(b hostfuncs.HostFuncBundle) Option {
	return func(o *options) {
		o.bundles = append(o.bundles, b)
	}
}
