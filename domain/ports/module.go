package ports

import (
	"context"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

// Module is one live instance of the compiled guest module. Calls into a
// Module must be serialized by the caller; a Module is not safe for
// concurrent use.
type Module interface {
	// Call invokes a function export taking a JSON payload and returning a
	// JSON result envelope.
	Call(ctx context.Context, export string, payload []byte) ([]byte, error)

	// New invokes a class constructor export and returns the guest handle
	// of the new object.
	New(ctx context.Context, export string, payload []byte) (uint32, error)

	// CallObject invokes a class method export on a guest object handle.
	CallObject(ctx context.Context, export string, handle uint32, payload []byte) ([]byte, error)

	// HasExport reports whether the instance exports the named function.
	HasExport(name string) bool

	// Closed reports whether the instance can no longer be used.
	Closed() bool

	// Close releases the instance and its linear memory.
	Close(ctx context.Context) error
}

// ModuleFactory instantiates fresh module instances from one compiled module.
type ModuleFactory interface {
	// Instantiate creates a new instance and runs its reset entrypoint.
	Instantiate(ctx context.Context) (Module, error)

	// Exports lists the function exports of the compiled module.
	Exports() []entities.ExportInfo
}

// Object is a live object bound to one module instance.
type Object interface {
	Invoke(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// Constructor builds live objects for one entrypoint kind.
type Constructor interface {
	// Name identifies the constructor in logs and errors.
	Name() string

	// Construct builds a live object inside mod from args.
	Construct(ctx context.Context, mod Module, args entities.ConstructorArgs) (Object, error)
}

// FaultReporter receives critical faults signaled from inside guest code.
type FaultReporter interface {
	ReportCritical(ctx context.Context, message string)
}
