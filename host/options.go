package host

import (
	"log/slog"

	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/hostfuncs"
)

// Option configures an Executor.
type Option func(*Executor)

// WithHostFunctions sets the registry served to the guest under worker_host.
func WithHostFunctions(registry *hostfuncs.HandlerRegistry) Option {
	return func(e *Executor) {
		e.registry = registry
	}
}

// WithFaultReporter sets the receiver of report_fault calls.
func WithFaultReporter(r ports.FaultReporter) Option {
	return func(e *Executor) {
		e.reporter = r
	}
}

// WithLogger sets the logger guest log records are forwarded to.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMemoryLimitPages caps each instance's linear memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(e *Executor) {
		e.memoryLimitPages = pages
	}
}

// WithCompilationCacheDir persists compiled code under dir across runs.
func WithCompilationCacheDir(dir string) Option {
	return func(e *Executor) {
		e.cacheDir = dir
	}
}
