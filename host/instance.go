package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	wz "github.com/reglet-dev/reglet-workers/infrastructure/wazero"
)

var _ ports.Module = (*Instance)(nil)

// Instance is one instantiation of the worker module. It is not safe for
// concurrent use; the lifecycle controller serializes calls.
type Instance struct {
	module api.Module
}

// Call implements ports.Module.
func (i *Instance) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	packed, err := i.callRaw(ctx, export, payload)
	if err != nil {
		return nil, err
	}
	return i.readResult(export, packed)
}

// New implements ports.Module.
func (i *Instance) New(ctx context.Context, export string, payload []byte) (uint32, error) {
	handle, err := i.callRaw(ctx, export, payload)
	if err != nil {
		return 0, err
	}
	return uint32(handle), nil //nolint:gosec // G115: constructors return i32
}

// CallObject implements ports.Module.
func (i *Instance) CallObject(ctx context.Context, export string, handle uint32, payload []byte) ([]byte, error) {
	packed, err := i.callRaw(ctx, export, payload, uint64(handle))
	if err != nil {
		return nil, err
	}
	return i.readResult(export, packed)
}

// HasExport implements ports.Module.
func (i *Instance) HasExport(name string) bool {
	return i.module.ExportedFunction(name) != nil
}

// Closed implements ports.Module.
func (i *Instance) Closed() bool {
	return i.module.IsClosed()
}

// Close implements ports.Module.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// callRaw writes payload into guest memory and calls export with the
// leading params followed by (ptr, len).
func (i *Instance) callRaw(ctx context.Context, export string, payload []byte, leading ...uint64) (uint64, error) {
	if i.module.IsClosed() {
		return 0, fmt.Errorf("call %s: %w", export, werrors.ErrModuleClosed)
	}
	f := i.module.ExportedFunction(export)
	if f == nil {
		return 0, &werrors.NotFoundError{Kind: "export", Name: export}
	}

	ptr, err := wz.Write(ctx, i.module, payload)
	if err != nil {
		return 0, fmt.Errorf("write %s request: %w", export, err)
	}

	params := append(leading, uint64(ptr), uint64(len(payload)))
	results, err := f.Call(ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", export, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

func (i *Instance) readResult(export string, packed uint64) ([]byte, error) {
	if packed == 0 {
		return nil, &werrors.WireFormatError{Err: errors.New("null result"), Operation: "decode", Type: export + " result"}
	}
	return wz.ReadPacked(i.module, packed)
}
