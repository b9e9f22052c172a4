package entities

import "fmt"

// Generation identifies one live epoch of the module instance.
// Zero means no instance has been created yet; the first live generation is 1.
type Generation uint64

// String returns the generation formatted as "g<n>".
func (g Generation) String() string {
	return fmt.Sprintf("g%d", uint64(g))
}

// InstanceKey identifies a logical entrypoint inside the module.
//
// The zero key addresses the module itself (fixed hooks and plain functions).
// A key with only Class set addresses an RPC class, and a key with both Class
// and ID set addresses one durable object.
type InstanceKey struct {
	Class string `json:"class,omitempty"`
	ID    string `json:"id,omitempty"`
}

// IsModule reports whether the key addresses the module singleton.
func (k InstanceKey) IsModule() bool {
	return k.Class == "" && k.ID == ""
}

func (k InstanceKey) String() string {
	switch {
	case k.IsModule():
		return "<module>"
	case k.ID == "":
		return k.Class
	default:
		return k.Class + "/" + k.ID
	}
}
