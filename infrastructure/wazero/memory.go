package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

// AllocateExport is the guest export the host allocates through.
const AllocateExport = "allocate"

// Pack packs a pointer and length into one i64: pointer high, length low.
func Pack(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// Unpack reverses Pack.
func Unpack(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed) //nolint:gosec // G115: both halves are 32-bit by construction
}

// Read copies length bytes at ptr out of guest memory.
func Read(mod api.Module, ptr, length uint32) ([]byte, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, &werrors.MemoryError{Op: "read", Offset: ptr, Length: length}
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, &werrors.MemoryError{Op: "read", Offset: ptr, Length: length, Size: mem.Size()}
	}
	// Read returns a view; the next guest call may reuse it.
	return append([]byte(nil), data...), nil
}

// ReadPacked reads the region a packed i64 points at.
func ReadPacked(mod api.Module, packed uint64) ([]byte, error) {
	ptr, length := Unpack(packed)
	return Read(mod, ptr, length)
}

// Write allocates len(data) bytes in the guest and copies data there.
// A trap inside allocate is returned unchanged so it can be classified.
func Write(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	allocate := mod.ExportedFunction(AllocateExport)
	if allocate == nil {
		return 0, &werrors.NotFoundError{Kind: "export", Name: AllocateExport}
	}

	size := uint32(len(data)) //nolint:gosec // G115: bounded by the request size limit
	results, err := allocate.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) == 0 || (results[0] == 0 && size > 0) {
		return 0, &werrors.OutOfMemoryError{Requested: size}
	}

	ptr := uint32(results[0]) //nolint:gosec // G115: wasm32 pointers are 32-bit
	if !mod.Memory().Write(ptr, data) {
		return 0, &werrors.MemoryError{Op: "write", Offset: ptr, Length: size, Size: mod.Memory().Size()}
	}
	return ptr, nil
}

// WritePacked is Write returning the packed form.
func WritePacked(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	ptr, err := Write(ctx, mod, data)
	if err != nil {
		return 0, err
	}
	return Pack(ptr, uint32(len(data))), nil //nolint:gosec // G115: see Write
}
