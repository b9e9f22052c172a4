// Package testutil provides fake guests, a hand-assembled wasm guest, and
// assertions shared by the worker host tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

// FailureBody stands in for a failed call in a sequence of response bodies.
const FailureBody = "<failure>"

// RequireCriticalFault asserts err carries a critical fault of kind and
// returns it.
func RequireCriticalFault(t *testing.T, err error, kind entities.FaultKind, msgAndArgs ...any) *werrors.CriticalFaultError {
	t.Helper()
	var crit *werrors.CriticalFaultError
	require.ErrorAs(t, err, &crit, msgAndArgs...)
	assert.Equal(t, kind, crit.Kind, msgAndArgs...)
	return crit
}

// AssertCategory asserts the error category of err.
func AssertCategory(t *testing.T, want werrors.Category, err error, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	assert.Equal(t, want, werrors.CategoryOf(err), msgAndArgs...)
}

// CollectBodies runs call for each input in order and records the response
// body, or FailureBody when the call fails.
func CollectBodies(t *testing.T, inputs []string, call func(string) (string, error)) []string {
	t.Helper()
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		body, err := call(in)
		if err != nil {
			out = append(out, FailureBody)
			continue
		}
		out = append(out, body)
	}
	return out
}
