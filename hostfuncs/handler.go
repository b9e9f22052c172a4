package hostfuncs

import (
	"context"
	"encoding/json"
)

// HostFunc is a typed host function.
type HostFunc[Req any, Resp any] func(context.Context, Req) Resp

// ByteHandler accepts a JSON request and returns a JSON response. It is the
// form every handler takes once registered.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewJSONHandler wraps a typed HostFunc into a ByteHandler. A request that
// does not decode is answered with a validation ErrorResponse rather than
// a Go error, so the guest can handle it.
//
//	get := hostfuncs.NewJSONHandler(func(ctx context.Context, req StorageGetRequest) StorageGetResponse {
//	    return PerformStorageGet(ctx, store, req)
//	})
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return NewValidationError("malformed request: " + err.Error()).ToJSON(), nil
			}
		}

		return json.Marshal(fn(ctx, req))
	}
}
