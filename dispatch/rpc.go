package dispatch

import (
	"context"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
	"github.com/reglet-dev/reglet-workers/lifecycle"
)

// rpcTarget addresses the single instance of an RPC class. The instance is
// constructed on first use in each generation with the environment and the
// context of the call that builds it.
func (d *Dispatcher) rpcTarget(ctx context.Context, class string) lifecycle.Target {
	return lifecycle.Target{
		Constructor: classConstructor{class: class},
		Key:         entities.InstanceKey{Class: class},
		Args: entities.ConstructorArgs{
			Env:     d.env,
			Context: wasmcontext.ContextToWire(ctx),
		},
	}
}

// RPCMethods returns the symbols served by RPC class instances.
func (d *Dispatcher) RPCMethods() []Symbol {
	var out []Symbol
	for _, s := range d.registry.Symbols() {
		if s.Kind == SymbolRPC {
			out = append(out, s)
		}
	}
	return out
}
