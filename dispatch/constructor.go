package dispatch

import (
	"context"
	"encoding/json"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
)

// classConstructor builds guest objects through the Class.new export.
type classConstructor struct {
	class string
}

// Name implements ports.Constructor.
func (c classConstructor) Name() string { return c.class + "." + classNew }

// Construct implements ports.Constructor.
func (c classConstructor) Construct(ctx context.Context, mod ports.Module, args entities.ConstructorArgs) (ports.Object, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, &werrors.WireFormatError{Err: err, Operation: "encode", Type: "ConstructorArgs"}
	}

	ctx = wasmcontext.WithState(ctx, args.State)
	handle, err := mod.New(ctx, c.Name(), payload)
	if err != nil {
		return nil, err
	}
	return &classObject{mod: mod, class: c.class, handle: handle, state: args.State}, nil
}

// classObject is a guest object addressed by its handle.
type classObject struct {
	mod    ports.Module
	state  *entities.StateHandle
	class  string
	handle uint32
}

// Invoke implements ports.Object.
func (o *classObject) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	ctx = wasmcontext.WithState(ctx, o.state)
	return o.mod.CallObject(ctx, o.class+"."+method, o.handle, payload)
}
