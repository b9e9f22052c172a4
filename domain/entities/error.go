package entities

import "fmt"

// ErrorDetail is the structured form of an error. Guests return it inside an
// error envelope ({"error": {"message": ..., "type": ...}}) and the host
// answers failed invocations with it.
type ErrorDetail struct {
	// Wrapped is the cause, when it is structured too.
	Wrapped *ErrorDetail `json:"wrapped,omitempty"`

	// Details carries additional context, such as the generation of a fault.
	Details map[string]any `json:"details,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Type is the guest's error class name, or the host error category.
	Type string `json:"type"`

	// Code is a machine-readable code within Type.
	Code string `json:"code,omitempty"`

	// IsNotFound marks a missing symbol, hook, class or method.
	IsNotFound bool `json:"is_not_found,omitempty"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped.Error())
	}
	return msg
}

// NewErrorDetail creates an ErrorDetail of the given type.
func NewErrorDetail(errorType, message string) *ErrorDetail {
	return &ErrorDetail{
		Type:    errorType,
		Message: message,
	}
}
