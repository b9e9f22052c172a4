package entities

// ClassKind tells the host how a class exported by the module is addressed.
type ClassKind string

const (
	// ClassDurable classes are instantiated once per object identity.
	ClassDurable ClassKind = "durable"
	// ClassRPC classes are instantiated at most once and expose their
	// methods on the dispatcher.
	ClassRPC ClassKind = "rpc"
)

// Manifest is the root configuration of a worker (worker.yaml).
type Manifest struct {
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty" jsonschema:"description=Plain-text environment bindings"`
	Name        string            `json:"name" yaml:"name" validate:"required" jsonschema:"required"`
	Module      string            `json:"module" yaml:"module" validate:"required" jsonschema:"required,description=Path to the compiled wasm module"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Classes     []ClassSpec       `json:"classes,omitempty" yaml:"classes,omitempty" validate:"dive"`
}

// ClassSpec declares one exported class.
type ClassSpec struct {
	Name    string    `json:"name" yaml:"name" validate:"required,excludesall=./" jsonschema:"required"`
	Kind    ClassKind `json:"kind" yaml:"kind" validate:"required,oneof=durable rpc" jsonschema:"required,enum=durable,enum=rpc"`
	Methods []string  `json:"methods,omitempty" yaml:"methods,omitempty" jsonschema:"description=Public methods; discovered from exports when empty"`
}

// Class returns the declaration of the named class.
func (m *Manifest) Class(name string) (ClassSpec, bool) {
	for _, c := range m.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return ClassSpec{}, false
}

// ExportInfo describes one function exported by the compiled module.
type ExportInfo struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
}

// Arity returns the number of parameters the export takes.
func (e ExportInfo) Arity() int {
	return len(e.Params)
}
