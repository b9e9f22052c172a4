package dispatch

import (
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEnv sets the environment bindings passed to every call and constructor.
func WithEnv(env map[string]string) Option {
	return func(d *Dispatcher) {
		d.env = maps.Clone(env)
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}
