package dispatch

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

// ABIVersion is the version of the guest ABI. ReservedSymbols is part of it.
const ABIVersion = 1

// Fixed lifecycle hooks.
const (
	HookFetch     = "fetch"
	HookScheduled = "scheduled"
	HookQueue     = "queue"
	HookAlarm     = "alarm"
)

// ReservedSymbols are exports owned by the host bridge. They are never
// forwarded as business symbols.
var ReservedSymbols = map[string]struct{}{
	HookFetch:          {},
	HookScheduled:      {},
	HookQueue:          {},
	"memory":           {},
	"allocate":         {},
	"deallocate":       {},
	"_initialize":      {},
	"_start":           {},
	"__reset_state":    {},
	"__set_panic_hook": {},
	"report_fault":     {},
}

// Class method names that are part of the class ABI rather than its surface.
const (
	classNew  = "new"
	classFree = "free"
)

// IsReserved reports whether name belongs to the host bridge.
func IsReserved(name string) bool {
	_, ok := ReservedSymbols[name]
	return ok
}

// SymbolKind tells how a registered symbol is invoked.
type SymbolKind string

const (
	// SymbolFunction is a plain function export forwarded 1:1.
	SymbolFunction SymbolKind = "function"
	// SymbolRPC is a method of an RPC class instance.
	SymbolRPC SymbolKind = "rpc"
)

// Symbol is one entry of the dispatcher's synthesized method surface.
type Symbol struct {
	Name  string     `json:"name"`
	Kind  SymbolKind `json:"kind"`
	Class string     `json:"class,omitempty"`
	// Export is the function export for SymbolFunction and the method name
	// for SymbolRPC.
	Export string `json:"export"`
	Arity  int    `json:"arity"`
}

// ClassInfo describes an exported class declared in the manifest.
type ClassInfo struct {
	Name    string             `json:"name"`
	Kind    entities.ClassKind `json:"kind"`
	Methods []string           `json:"methods"`
}

// HasMethod reports whether the class exports method.
func (c ClassInfo) HasMethod(method string) bool {
	i := sort.SearchStrings(c.Methods, method)
	return i < len(c.Methods) && c.Methods[i] == method
}

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	logger     *slog.Logger
	strictMode bool // Fail on name collisions
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		logger:     slog.Default(),
		strictMode: true,
	}
}

// RegistryOption configures a Registry instance.
type RegistryOption func(*registryConfig)

// WithStrictMode enables/disables strict mode for name collisions.
// Default is true (a collision is a load error). When disabled, the first
// registration wins and later collisions are skipped with a warning.
func WithStrictMode(enabled bool) RegistryOption {
	return func(c *registryConfig) {
		c.strictMode = enabled
	}
}

// WithRegistryLogger sets the logger used for skipped symbols.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(c *registryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Registry is the method registry of a module. It is built once at load
// time and is read-only afterwards.
type Registry struct {
	symbols map[string]Symbol
	classes map[string]ClassInfo
	hooks   map[string]bool
	names   []string // sorted for consistent iteration
}

// NewRegistry builds the registry from the module's function exports and the
// classes declared in manifest.
//
// Plain functions are registered in name order, then the methods of RPC
// classes in manifest order. Reserved names and exports that do not follow
// the function ABI are skipped.
func NewRegistry(manifest *entities.Manifest, exports []entities.ExportInfo, opts ...RegistryOption) (*Registry, error) {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{
		symbols: make(map[string]Symbol),
		classes: make(map[string]ClassInfo),
		hooks:   make(map[string]bool),
	}

	byName := make(map[string]entities.ExportInfo, len(exports))
	for _, e := range exports {
		byName[e.Name] = e
	}

	for _, hook := range []string{HookFetch, HookScheduled, HookQueue} {
		if e, ok := byName[hook]; ok && isFunctionABI(e) {
			r.hooks[hook] = true
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := byName[name]
		if strings.Contains(name, ".") || IsReserved(name) {
			continue
		}
		if !isFunctionABI(e) {
			cfg.logger.Debug("skipping export with foreign signature", "export", name, "params", e.Params, "results", e.Results)
			continue
		}
		r.symbols[name] = Symbol{Name: name, Kind: SymbolFunction, Export: name, Arity: e.Arity()}
	}

	var classes []entities.ClassSpec
	if manifest != nil {
		classes = manifest.Classes
	}
	for _, spec := range classes {
		info, err := classInfo(spec, byName, names)
		if err != nil {
			return nil, err
		}
		if _, dup := r.classes[info.Name]; dup {
			return nil, &werrors.RegistryError{Symbol: info.Name, Reason: "class declared twice"}
		}
		r.classes[info.Name] = info

		if info.Kind != entities.ClassRPC {
			continue
		}
		for _, method := range info.Methods {
			if err := r.addRPC(cfg, info, method, byName[info.Name+"."+method]); err != nil {
				return nil, err
			}
		}
	}

	r.names = make([]string, 0, len(r.symbols))
	for name := range r.symbols {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) addRPC(cfg registryConfig, class ClassInfo, method string, e entities.ExportInfo) error {
	var reason string
	if existing, ok := r.symbols[method]; ok {
		reason = fmt.Sprintf("already registered as %s %s", existing.Kind, existing.owner())
	} else if IsReserved(method) {
		reason = "reserved by the host bridge"
	}

	if reason == "" {
		r.symbols[method] = Symbol{Name: method, Kind: SymbolRPC, Class: class.Name, Export: method, Arity: e.Arity()}
		return nil
	}
	if cfg.strictMode {
		return &werrors.RegistryError{Symbol: method, Reason: fmt.Sprintf("method of %s %s", class.Name, reason)}
	}
	cfg.logger.Warn("skipping colliding RPC method", "class", class.Name, "method", method, "reason", reason)
	return nil
}

func (s Symbol) owner() string {
	if s.Kind == SymbolRPC {
		return s.Class + "." + s.Export
	}
	return s.Export
}

// classInfo validates a class declaration against the exports and resolves
// its method list. Methods are discovered from Class.* exports when the
// declaration lists none.
func classInfo(spec entities.ClassSpec, byName map[string]entities.ExportInfo, names []string) (ClassInfo, error) {
	if _, ok := byName[spec.Name+"."+classNew]; !ok {
		return ClassInfo{}, &werrors.RegistryError{Symbol: spec.Name, Reason: "constructor export " + spec.Name + "." + classNew + " missing"}
	}

	info := ClassInfo{Name: spec.Name, Kind: spec.Kind}
	if len(spec.Methods) > 0 {
		for _, m := range spec.Methods {
			e, ok := byName[spec.Name+"."+m]
			if !ok {
				return ClassInfo{}, &werrors.RegistryError{Symbol: spec.Name + "." + m, Reason: "declared method is not exported"}
			}
			if !isMethodABI(e) {
				return ClassInfo{}, &werrors.RegistryError{Symbol: e.Name, Reason: "method does not follow the class method ABI"}
			}
			info.Methods = append(info.Methods, m)
		}
	} else {
		prefix := spec.Name + "."
		for _, name := range names {
			m, ok := strings.CutPrefix(name, prefix)
			if !ok || m == classNew || m == classFree || strings.Contains(m, ".") {
				continue
			}
			if isMethodABI(byName[name]) {
				info.Methods = append(info.Methods, m)
			}
		}
	}
	sort.Strings(info.Methods)
	return info, nil
}

// isFunctionABI matches name(ptr i32, len i32) i64.
func isFunctionABI(e entities.ExportInfo) bool {
	return equal(e.Params, "i32", "i32") && equal(e.Results, "i64")
}

// isMethodABI matches Class.method(handle i32, ptr i32, len i32) i64.
func isMethodABI(e entities.ExportInfo) bool {
	return equal(e.Params, "i32", "i32", "i32") && equal(e.Results, "i64")
}

func equal(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Lookup returns the symbol registered under name.
func (r *Registry) Lookup(name string) (Symbol, bool) {
	s, ok := r.symbols[name]
	return s, ok
}

// Names returns the registered symbol names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Symbols returns every registered symbol in name order.
func (r *Registry) Symbols() []Symbol {
	out := make([]Symbol, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.symbols[name])
	}
	return out
}

// Class returns the declared class with the given name.
func (r *Registry) Class(name string) (ClassInfo, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// Classes returns every declared class in name order.
func (r *Registry) Classes() []ClassInfo {
	out := make([]ClassInfo, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasHook reports whether the module exports the named lifecycle hook.
func (r *Registry) HasHook(name string) bool {
	return r.hooks[name]
}
