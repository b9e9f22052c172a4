package hostfuncs

import (
	"encoding/json"
	"fmt"
)

// ErrorResponse is the JSON error a host function hands back to the guest.
// Host functions never trap the guest; they answer with an ErrorResponse.
type ErrorResponse struct {
	// Error is a machine-readable type, such as "VALIDATION_ERROR".
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ToJSON serializes the ErrorResponse.
func (e ErrorResponse) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// NewValidationError reports a malformed or oversized request.
func NewValidationError(message string) ErrorResponse {
	return ErrorResponse{Error: "VALIDATION_ERROR", Message: message, Code: 400}
}

// NewNotFoundError reports a call to an unregistered host function.
func NewNotFoundError(name string) ErrorResponse {
	return ErrorResponse{Error: "NOT_FOUND", Message: "unknown host function: " + name, Code: 404}
}

// NewUnscopedError reports a storage call made outside any durable object.
func NewUnscopedError(name string) ErrorResponse {
	return ErrorResponse{Error: "UNSCOPED", Message: name + " requires a durable object", Code: 409}
}

// NewInternalError reports an unexpected host-side failure.
func NewInternalError(message string) ErrorResponse {
	return ErrorResponse{Error: "INTERNAL_ERROR", Message: message, Code: 500}
}

// NewPanicError reports a panic recovered inside a host function.
func NewPanicError(panicValue any) ErrorResponse {
	var msg string
	switch v := panicValue.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprint(v)
	}
	return ErrorResponse{Error: "INTERNAL_ERROR", Message: "panic: " + msg, Code: 500}
}
