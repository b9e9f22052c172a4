package hostfuncs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, payload []byte) ([]byte, error) {
	return append([]byte("echo:"), payload...), nil
}

func TestNewRegistry_Empty(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(WithByteHandler("echo", echo), WithByteHandler("echo", echo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler name")

	_, err = NewRegistry(WithByteHandler("", echo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")

	_, err = NewRegistry(WithBundle(EnvBundle(nil)), WithByteHandler("env_get", echo))
	require.Error(t, err, "bundles and handlers share one namespace")
}

func TestHandlerRegistry_Invoke(t *testing.T) {
	reg, err := NewRegistry(WithByteHandler("echo", echo))
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		resp, err := reg.Invoke(context.Background(), "echo", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, "echo:hello", string(resp))
	})

	t.Run("not found", func(t *testing.T) {
		resp, err := reg.Invoke(context.Background(), "unknown", nil)
		require.NoError(t, err)

		var errResp ErrorResponse
		require.NoError(t, json.Unmarshal(resp, &errResp))
		assert.Equal(t, "NOT_FOUND", errResp.Error)
		assert.Equal(t, 404, errResp.Code)
	})
}

func TestHandlerRegistry_NamesSorted(t *testing.T) {
	reg, err := NewRegistry(
		WithByteHandler("zebra", echo),
		WithByteHandler("alpha", echo),
		WithBundle(EnvBundle(nil)),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "env_get", "zebra"}, reg.Names())
	assert.True(t, reg.Has("env_get"))
	assert.False(t, reg.Has("storage_get"))
}

func TestHandlerRegistry_FunctionNameInContext(t *testing.T) {
	var seen string
	reg, err := NewRegistry(WithByteHandler("whoami", func(ctx context.Context, _ []byte) ([]byte, error) {
		seen = FunctionName(ctx)
		return nil, nil
	}))
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "whoami", seen)
	assert.Equal(t, "unknown", FunctionName(context.Background()))
}

func TestWithHandler_Typed(t *testing.T) {
	type req struct {
		A, B int
	}
	type resp struct {
		Sum int `json:"sum"`
	}
	reg, err := NewRegistry(WithHandler("add", func(_ context.Context, r req) resp {
		return resp{Sum: r.A + r.B}
	}))
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), "add", []byte(`{"A":2,"B":3}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":5}`, string(out))

	out, err = reg.Invoke(context.Background(), "add", []byte(`{`))
	require.NoError(t, err)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(out, &errResp))
	assert.Equal(t, "VALIDATION_ERROR", errResp.Error)
}
