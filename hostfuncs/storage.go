package hostfuncs

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const (
	// MaxStorageValueBytes is the largest value storage_put accepts.
	MaxStorageValueBytes = 128 << 10
	// MaxRequestBytes bounds every host function request: one storage value
	// plus its key and envelope.
	MaxRequestBytes = MaxStorageValueBytes + 8<<10
)

// StorageGetRequest reads one key of the calling object's storage.
type StorageGetRequest struct {
	Key     string               `json:"key" validate:"required,max=2048"`
	Context entities.ContextWire `json:"context"`
}

// StorageGetResponse carries the stored value, if any.
type StorageGetResponse struct {
	Error *ErrorResponse `json:"error,omitempty"`
	Value string         `json:"value,omitempty"`
	Found bool           `json:"found"`
}

// StoragePutRequest writes one key.
type StoragePutRequest struct {
	Key     string               `json:"key" validate:"required,max=2048"`
	Value   string               `json:"value" validate:"max=131072"`
	Context entities.ContextWire `json:"context"`
}

// StorageDeleteRequest removes one key.
type StorageDeleteRequest struct {
	Key     string               `json:"key" validate:"required,max=2048"`
	Context entities.ContextWire `json:"context"`
}

// StorageResponse acknowledges a write.
type StorageResponse struct {
	Error *ErrorResponse `json:"error,omitempty"`
}

// StorageListRequest lists keys by prefix.
type StorageListRequest struct {
	Prefix  string               `json:"prefix" validate:"max=2048"`
	Context entities.ContextWire `json:"context"`
}

// StorageListResponse carries the matching keys in ascending order.
type StorageListResponse struct {
	Error *ErrorResponse `json:"error,omitempty"`
	Keys  []string       `json:"keys"`
}

// PerformStorageGet serves storage_get.
func PerformStorageGet(ctx context.Context, store ports.StateStore, req StorageGetRequest) StorageGetResponse {
	h, errResp := scope(ctx, req)
	if errResp != nil {
		return StorageGetResponse{Error: errResp}
	}
	ctx, cancel := wasmcontext.WireToContext(ctx, req.Context)
	defer cancel()
	value, found, err := store.Get(ctx, h, req.Key)
	if err != nil {
		return StorageGetResponse{Error: internal(err)}
	}
	return StorageGetResponse{Value: string(value), Found: found}
}

// PerformStoragePut serves storage_put.
func PerformStoragePut(ctx context.Context, store ports.StateStore, req StoragePutRequest) StorageResponse {
	h, errResp := scope(ctx, req)
	if errResp != nil {
		return StorageResponse{Error: errResp}
	}
	ctx, cancel := wasmcontext.WireToContext(ctx, req.Context)
	defer cancel()
	if err := store.Put(ctx, h, req.Key, []byte(req.Value)); err != nil {
		return StorageResponse{Error: internal(err)}
	}
	return StorageResponse{}
}

// PerformStorageDelete serves storage_delete.
func PerformStorageDelete(ctx context.Context, store ports.StateStore, req StorageDeleteRequest) StorageResponse {
	h, errResp := scope(ctx, req)
	if errResp != nil {
		return StorageResponse{Error: errResp}
	}
	ctx, cancel := wasmcontext.WireToContext(ctx, req.Context)
	defer cancel()
	if err := store.Delete(ctx, h, req.Key); err != nil {
		return StorageResponse{Error: internal(err)}
	}
	return StorageResponse{}
}

// PerformStorageList serves storage_list.
func PerformStorageList(ctx context.Context, store ports.StateStore, req StorageListRequest) StorageListResponse {
	h, errResp := scope(ctx, req)
	if errResp != nil {
		return StorageListResponse{Error: errResp}
	}
	ctx, cancel := wasmcontext.WireToContext(ctx, req.Context)
	defer cancel()
	keys, err := store.List(ctx, h, req.Prefix)
	if err != nil {
		return StorageListResponse{Error: internal(err)}
	}
	if keys == nil {
		keys = []string{}
	}
	return StorageListResponse{Keys: keys}
}

// scope validates req and returns the state handle of the durable object
// the call was made from.
func scope(ctx context.Context, req any) (h entities.StateHandle, errResp *ErrorResponse) {
	if err := validate.Struct(req); err != nil {
		e := NewValidationError(err.Error())
		return h, &e
	}
	h, ok := wasmcontext.StateFrom(ctx)
	if !ok {
		e := NewUnscopedError(FunctionName(ctx))
		return h, &e
	}
	return h, nil
}

func internal(err error) *ErrorResponse {
	e := NewInternalError(err.Error())
	return &e
}
