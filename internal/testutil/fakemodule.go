package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/sys"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
)

// ErrCorrupted is returned by a FakeModule called after it trapped. A test
// that sees it has dispatched to a faulted generation.
var ErrCorrupted = errors.New("fake module: read from corrupted memory")

// Trap returns an error shaped like a wazero runtime trap.
func Trap(msg string) error {
	return fmt.Errorf("wasm error: %s\nwasm stack trace:\n\t.fake()", msg)
}

// OK encodes v as a successful guest result envelope.
func OK(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out, _ := json.Marshal(entities.Result{OK: raw})
	return out
}

// Fail encodes an application error result envelope.
func Fail(errType, msg string) []byte {
	out, _ := json.Marshal(entities.Result{Error: &entities.ErrorDetail{Type: errType, Message: msg}})
	return out
}

// GuestFunc is a function export of a fake guest.
type GuestFunc func(ctx context.Context, m *FakeModule, payload []byte) ([]byte, error)

// GuestMethod is a class method export of a fake guest.
type GuestMethod func(ctx context.Context, m *FakeModule, obj *FakeObject, payload []byte) ([]byte, error)

// GuestClass is a class exported by a fake guest.
type GuestClass struct {
	// New runs inside the constructor export. It may be nil.
	New     func(ctx context.Context, m *FakeModule, obj *FakeObject) error
	Methods map[string]GuestMethod
}

// FakeObject is a guest object living in a FakeModule's memory.
type FakeObject struct {
	Fields map[string]int
	Class  string
	Args   []byte
	Handle uint32
}

// FakeFactory instantiates FakeModules running a guest written in Go.
type FakeFactory struct {
	Functions   map[string]GuestFunc
	Classes     map[string]GuestClass
	failures    []error
	instances   []*FakeModule
	mu          sync.Mutex
	instantiate atomic.Int64
}

// Instantiate implements ports.ModuleFactory.
func (f *FakeFactory) Instantiate(_ context.Context) (ports.Module, error) {
	f.instantiate.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	m := &FakeModule{
		factory: f,
		ID:      len(f.instances) + 1,
		globals: make(map[string]int),
		objects: make(map[uint32]*FakeObject),
	}
	f.instances = append(f.instances, m)
	return m, nil
}

// Exports implements ports.ModuleFactory using the guest ABI signatures.
func (f *FakeFactory) Exports() []entities.ExportInfo {
	exports := []entities.ExportInfo{
		{Name: "allocate", Params: []string{"i32"}, Results: []string{"i32"}},
	}
	for name := range f.Functions {
		exports = append(exports, entities.ExportInfo{Name: name, Params: []string{"i32", "i32"}, Results: []string{"i64"}})
	}
	for class, c := range f.Classes {
		exports = append(exports, entities.ExportInfo{Name: class + ".new", Params: []string{"i32", "i32"}, Results: []string{"i32"}})
		for method := range c.Methods {
			exports = append(exports, entities.ExportInfo{Name: class + "." + method, Params: []string{"i32", "i32", "i32"}, Results: []string{"i64"}})
		}
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
	return exports
}

// FailNextInstantiate makes the next Instantiate call return err.
func (f *FakeFactory) FailNextInstantiate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

// Instances returns every module instantiated so far, oldest first.
func (f *FakeFactory) Instances() []*FakeModule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeModule(nil), f.instances...)
}

// InstantiateCalls returns the number of Instantiate calls, failed ones included.
func (f *FakeFactory) InstantiateCalls() int64 {
	return f.instantiate.Load()
}

// FakeModule is one instance of a fake guest. It records overlapping calls
// so tests can assert that guest execution is serialized.
type FakeModule struct {
	factory  *FakeFactory
	globals  map[string]int
	objects  map[uint32]*FakeObject
	mu       sync.Mutex
	next     uint32
	ID       int
	active   atomic.Int32
	calls    atomic.Int64
	overlaps atomic.Int64
	poisoned atomic.Bool
	closed   atomic.Bool
}

// Global returns a guest global variable.
func (m *FakeModule) Global(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.globals[name]
}

// Add increments a guest global variable and returns its new value.
func (m *FakeModule) Add(name string, delta int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globals[name] += delta
	return m.globals[name]
}

// Calls returns the number of calls that entered the module.
func (m *FakeModule) Calls() int64 { return m.calls.Load() }

// Overlaps returns the number of calls that entered while another was running.
func (m *FakeModule) Overlaps() int64 { return m.overlaps.Load() }

// Poisoned reports whether the module trapped.
func (m *FakeModule) Poisoned() bool { return m.poisoned.Load() }

// Call implements ports.Module.
func (m *FakeModule) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	fn, ok := m.factory.Functions[export]
	if !ok {
		return nil, &werrors.NotFoundError{Kind: "export", Name: export}
	}
	return m.run(ctx, func() ([]byte, error) { return fn(ctx, m, payload) })
}

// New implements ports.Module.
func (m *FakeModule) New(ctx context.Context, export string, payload []byte) (uint32, error) {
	class, ok := strings.CutSuffix(export, ".new")
	c, found := m.factory.Classes[class]
	if !ok || !found {
		return 0, &werrors.NotFoundError{Kind: "export", Name: export}
	}

	var handle uint32
	_, err := m.run(ctx, func() ([]byte, error) {
		m.mu.Lock()
		m.next++
		obj := &FakeObject{Handle: m.next, Class: class, Args: payload, Fields: make(map[string]int)}
		m.objects[obj.Handle] = obj
		m.mu.Unlock()

		if c.New != nil {
			if err := c.New(ctx, m, obj); err != nil {
				return nil, err
			}
		}
		handle = obj.Handle
		return nil, nil
	})
	return handle, err
}

// CallObject implements ports.Module.
func (m *FakeModule) CallObject(ctx context.Context, export string, handle uint32, payload []byte) ([]byte, error) {
	class, method, _ := strings.Cut(export, ".")
	fn, ok := m.factory.Classes[class].Methods[method]
	if !ok {
		return nil, &werrors.NotFoundError{Kind: "export", Name: export}
	}

	m.mu.Lock()
	obj := m.objects[handle]
	m.mu.Unlock()
	if obj == nil {
		return nil, Trap("out of bounds memory access")
	}
	return m.run(ctx, func() ([]byte, error) { return fn(ctx, m, obj, payload) })
}

// HasExport implements ports.Module.
func (m *FakeModule) HasExport(name string) bool {
	for _, e := range m.factory.Exports() {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Closed implements ports.Module.
func (m *FakeModule) Closed() bool { return m.closed.Load() }

// Close implements ports.Module.
func (m *FakeModule) Close(context.Context) error {
	m.closed.Store(true)
	return nil
}

// run executes fn as one guest call. Like a wazero module compiled with
// CloseOnContextDone, entering with a done ctx closes the module.
func (m *FakeModule) run(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if m.closed.Load() {
		return nil, werrors.ErrModuleClosed
	}
	if ctx.Err() != nil {
		m.closed.Store(true)
		return nil, sys.NewExitError(sys.ExitCodeContextCanceled)
	}
	if m.active.Add(1) > 1 {
		m.overlaps.Add(1)
	}
	defer m.active.Add(-1)
	m.calls.Add(1)

	if m.poisoned.Load() {
		return nil, ErrCorrupted
	}
	out, err := fn()
	if err != nil && strings.Contains(err.Error(), "wasm error:") {
		m.poisoned.Store(true)
	}
	return out, err
}
