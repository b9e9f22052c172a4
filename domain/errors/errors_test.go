package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationError(t *testing.T) {
	err := &ApplicationError{
		Export: "fetch",
		Detail: &entities.ErrorDetail{Message: "bad input", Type: "TypeError"},
	}

	assert.Equal(t, "fetch: TypeError: bad input", err.Error())
	assert.Equal(t, CategoryApplication, CategoryOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))

	var detail *entities.ErrorDetail
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, "bad input", detail.Message)

	d := ToErrorDetail(err)
	assert.Equal(t, "application_error", d.Type)
	assert.Equal(t, "TypeError", d.Code)
}

func TestCriticalFaultError(t *testing.T) {
	cause := fmt.Errorf("wasm error: unreachable")
	err := &CriticalFaultError{
		Err:        cause,
		Kind:       entities.FaultTrap,
		Message:    "unreachable",
		Generation: 3,
	}

	assert.Equal(t, "runtime canceled: trap fault in generation 3: unreachable", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CategoryCritical, CategoryOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))

	d := ToErrorDetail(err)
	assert.Equal(t, "runtime_canceled", d.Type)
	assert.Equal(t, "trap", d.Code)
	assert.Equal(t, uint64(3), d.Details["generation"])
}

func TestRebuildError(t *testing.T) {
	cause := errors.New("constructor threw")
	err := &RebuildError{
		Err:        cause,
		Key:        entities.InstanceKey{Class: "Counter", ID: "abc"},
		Generation: 2,
	}

	assert.Equal(t, "rebuild of Counter/abc for generation 2 failed: constructor threw", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
}

func TestCategoryOf_Wrapped(t *testing.T) {
	inner := &NotFoundError{Kind: "symbol", Name: "missing"}
	wrapped := fmt.Errorf("dispatch: %w", inner)

	assert.Equal(t, CategoryNotFound, CategoryOf(wrapped))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
	assert.True(t, ToErrorDetail(wrapped).IsNotFound)
}

func TestCategoryOf_Plain(t *testing.T) {
	assert.Equal(t, Category(""), CategoryOf(nil))
	assert.Equal(t, CategoryInternal, CategoryOf(errors.New("boom")))
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("must be positive")
	err := &ConfigError{Field: "memory_limit_pages", Err: baseErr}

	assert.Equal(t, "config validation failed for field 'memory_limit_pages': must be positive", err.Error())
	assert.True(t, errors.Is(err, baseErr))

	noField := &ConfigError{Err: baseErr}
	assert.Equal(t, "config validation failed: must be positive", noField.Error())
}

func TestRegistryError(t *testing.T) {
	err := &RegistryError{Symbol: "increment", Reason: "already registered by function increment"}

	assert.Equal(t, `method registry: symbol "increment": already registered by function increment`, err.Error())
	assert.Equal(t, CategoryRegistry, CategoryOf(err))
}

func TestMemoryErrors(t *testing.T) {
	err := &MemoryError{Op: "read", Offset: 65530, Length: 16, Size: 65536}
	assert.Contains(t, err.Error(), "offset 65530")
	assert.Equal(t, CategoryMemory, CategoryOf(err))

	oom := &OutOfMemoryError{Requested: 1 << 20}
	assert.Equal(t, "guest allocation of 1048576 bytes failed", oom.Error())
	assert.Equal(t, "out_of_memory", ToErrorDetail(oom).Code)
}

func TestWireFormatError(t *testing.T) {
	baseErr := errors.New("unexpected end of JSON input")
	err := &WireFormatError{Operation: "decode", Type: "Result", Err: baseErr}

	assert.Equal(t, "wire format decode failed for Result: unexpected end of JSON input", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestToErrorDetail(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, ToErrorDetail(nil))
	})

	t.Run("generic", func(t *testing.T) {
		d := ToErrorDetail(errors.New("something went wrong"))
		assert.Equal(t, "internal", d.Type)
		assert.Equal(t, "something went wrong", d.Message)
	})

	t.Run("error detail", func(t *testing.T) {
		src := entities.NewErrorDetail("custom", "already structured")
		assert.Same(t, src, ToErrorDetail(fmt.Errorf("wrap: %w", src)))
	})
}
