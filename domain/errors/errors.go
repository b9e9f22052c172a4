// Package errors provides the error taxonomy of the worker host.
// All error types support error unwrapping via errors.As() and errors.Is(),
// and each maps to a stable category and HTTP status.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// Category is the stable error category surfaced to the host.
type Category string

const (
	CategoryApplication Category = "application_error"
	CategoryCritical    Category = "runtime_canceled"
	CategoryRebuild     Category = "rebuild_failed"
	CategoryRegistry    Category = "registry_error"
	CategoryNotFound    Category = "not_found"
	CategoryConfig      Category = "config_error"
	CategoryMemory      Category = "memory_error"
	CategoryWireFormat  Category = "wire_format_error"
	CategoryInternal    Category = "internal"
)

var (
	// ErrModuleClosed is returned when a call reaches a module instance that
	// has already been closed.
	ErrModuleClosed = stdErrors.New("module instance closed")

	// ErrFaultReported marks a call during which the guest reported a
	// critical fault through its fault hook.
	ErrFaultReported = stdErrors.New("guest reported a critical fault")
)

// DetailedError is an interface for custom error types that can convert themselves
// to a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
// This function recognizes custom error types and categorizes them appropriately.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    string(CategoryInternal),
	}
}

// CategoryOf returns the category of the outermost categorized error in the chain.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var c interface{ Category() Category }
	if stdErrors.As(err, &c) {
		return c.Category()
	}
	return CategoryInternal
}

// HTTPStatus maps an error to the status code the transport should answer with.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case "":
		return http.StatusOK
	case CategoryRebuild:
		return http.StatusServiceUnavailable
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryWireFormat:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ApplicationError is an error raised by business logic inside the module.
// It never changes the generation.
type ApplicationError struct {
	Detail *entities.ErrorDetail
	Export string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Export, e.Detail.Error())
}

// Unwrap exposes the guest error detail.
func (e *ApplicationError) Unwrap() error {
	return e.Detail
}

// Category implements the categorized error contract.
func (e *ApplicationError) Category() Category { return CategoryApplication }

// ToErrorDetail implements DetailedError.
func (e *ApplicationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Detail.Message,
		Type:    string(CategoryApplication),
		Code:    e.Detail.Type,
	}
}

// CriticalFaultError is returned to the invocation that observed a critical
// fault. The generation it ran against has been invalidated.
type CriticalFaultError struct {
	Err        error
	Kind       entities.FaultKind
	Message    string
	Generation entities.Generation
}

func (e *CriticalFaultError) Error() string {
	return fmt.Sprintf("runtime canceled: %s fault in generation %d: %s", e.Kind, e.Generation, e.Message)
}

func (e *CriticalFaultError) Unwrap() error {
	return e.Err
}

// Category implements the categorized error contract.
func (e *CriticalFaultError) Category() Category { return CategoryCritical }

// ToErrorDetail implements DetailedError.
func (e *CriticalFaultError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Message,
		Type:    string(CategoryCritical),
		Code:    string(e.Kind),
		Details: map[string]any{"generation": uint64(e.Generation)},
	}
}

// RebuildError is returned when a module instance or a live object could not
// be rebuilt for the current generation.
type RebuildError struct {
	Err        error
	Key        entities.InstanceKey
	Generation entities.Generation
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("rebuild of %s for generation %d failed: %v", e.Key, e.Generation, e.Err)
}

func (e *RebuildError) Unwrap() error {
	return e.Err
}

// Category implements the categorized error contract.
func (e *RebuildError) Category() Category { return CategoryRebuild }

// ToErrorDetail implements DetailedError.
func (e *RebuildError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryRebuild), Code: e.Key.String()}
}

// RegistryError is a load-time error building the method registry.
type RegistryError struct {
	Symbol string
	Reason string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("method registry: symbol %q: %s", e.Symbol, e.Reason)
}

// Category implements the categorized error contract.
func (e *RegistryError) Category() Category { return CategoryRegistry }

// ToErrorDetail implements DetailedError.
func (e *RegistryError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryRegistry), Code: e.Symbol}
}

// NotFoundError is returned when a symbol, class or export does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Category implements the categorized error contract.
func (e *NotFoundError) Category() Category { return CategoryNotFound }

// ToErrorDetail implements DetailedError.
func (e *NotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryNotFound), Code: e.Kind, IsNotFound: true}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Category implements the categorized error contract.
func (e *ConfigError) Category() Category { return CategoryConfig }

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryConfig), Code: e.Field}
}

// MemoryError represents an out-of-range access to guest linear memory.
type MemoryError struct {
	Op     string
	Offset uint32
	Length uint32
	Size   uint32
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("guest memory %s out of range: offset %d, length %d, memory size %d",
		e.Op, e.Offset, e.Length, e.Size)
}

// Category implements the categorized error contract.
func (e *MemoryError) Category() Category { return CategoryMemory }

// ToErrorDetail implements DetailedError.
func (e *MemoryError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryMemory), Code: e.Op}
}

// OutOfMemoryError is returned when the guest allocator cannot satisfy a
// host allocation request.
type OutOfMemoryError struct {
	Requested uint32
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("guest allocation of %d bytes failed", e.Requested)
}

// Category implements the categorized error contract.
func (e *OutOfMemoryError) Category() Category { return CategoryMemory }

// ToErrorDetail implements DetailedError.
func (e *OutOfMemoryError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryMemory), Code: "out_of_memory"}
}

// WireFormatError represents a wire format encoding/decoding error.
type WireFormatError struct {
	Err       error
	Operation string
	Type      string
}

func (e *WireFormatError) Error() string {
	return fmt.Sprintf("wire format %s failed for %s: %v", e.Operation, e.Type, e.Err)
}

func (e *WireFormatError) Unwrap() error {
	return e.Err
}

// Category implements the categorized error contract.
func (e *WireFormatError) Category() Category { return CategoryWireFormat }

// ToErrorDetail implements DetailedError.
func (e *WireFormatError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: string(CategoryWireFormat), Code: e.Operation}
}
