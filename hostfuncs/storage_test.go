package hostfuncs

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/infrastructure/memstore"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
)

func invoke[T any](t *testing.T, reg *HandlerRegistry, ctx context.Context, name, payload string) T {
	t.Helper()
	raw, err := reg.Invoke(ctx, name, []byte(payload))
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestStorageBundle(t *testing.T) {
	reg, err := NewRegistry(WithBundle(StorageBundle(memstore.New())))
	require.NoError(t, err)
	assert.Equal(t, []string{"storage_delete", "storage_get", "storage_list", "storage_put"}, reg.Names())

	room := wasmcontext.WithState(context.Background(), &entities.StateHandle{Class: "Room", ID: "1"})
	other := wasmcontext.WithState(context.Background(), &entities.StateHandle{Class: "Room", ID: "2"})

	put := invoke[StorageResponse](t, reg, room, "storage_put", `{"key":"topic","value":"go"}`)
	assert.Nil(t, put.Error)
	invoke[StorageResponse](t, reg, room, "storage_put", `{"key":"owner","value":"ada"}`)

	got := invoke[StorageGetResponse](t, reg, room, "storage_get", `{"key":"topic"}`)
	assert.True(t, got.Found)
	assert.Equal(t, "go", got.Value)

	got = invoke[StorageGetResponse](t, reg, other, "storage_get", `{"key":"topic"}`)
	assert.False(t, got.Found, "each object sees only its own keys")

	list := invoke[StorageListResponse](t, reg, room, "storage_list", `{}`)
	assert.Equal(t, []string{"owner", "topic"}, list.Keys)

	invoke[StorageResponse](t, reg, room, "storage_delete", `{"key":"owner"}`)
	list = invoke[StorageListResponse](t, reg, room, "storage_list", `{"prefix":"o"}`)
	assert.Equal(t, []string{}, list.Keys)
}

func TestStorageBundle_Rejects(t *testing.T) {
	reg, err := NewRegistry(WithBundle(StorageBundle(memstore.New())))
	require.NoError(t, err)

	unscoped := invoke[StorageGetResponse](t, reg, context.Background(), "storage_get", `{"key":"k"}`)
	require.NotNil(t, unscoped.Error)
	assert.Equal(t, "UNSCOPED", unscoped.Error.Error)
	assert.Contains(t, unscoped.Error.Message, "storage_get")

	room := wasmcontext.WithState(context.Background(), &entities.StateHandle{Class: "Room", ID: "1"})
	empty := invoke[StorageResponse](t, reg, room, "storage_put", `{"key":""}`)
	require.NotNil(t, empty.Error)
	assert.Equal(t, "VALIDATION_ERROR", empty.Error.Error)
}

func TestStorageBundle_HonoursGuestDeadline(t *testing.T) {
	reg, err := NewRegistry(WithBundle(StorageBundle(memstore.New())))
	require.NoError(t, err)
	room := wasmcontext.WithState(context.Background(), &entities.StateHandle{Class: "Room", ID: "1"})

	put := invoke[StorageResponse](t, reg, room, "storage_put",
		`{"key":"k","value":"v","context":{"deadline":"2000-01-01T00:00:00Z"}}`)
	require.NotNil(t, put.Error)
	assert.Equal(t, "INTERNAL_ERROR", put.Error.Error)
	assert.Contains(t, put.Error.Message, "deadline exceeded")

	canceled := invoke[StorageGetResponse](t, reg, room, "storage_get", `{"key":"k","context":{"canceled":true}}`)
	require.NotNil(t, canceled.Error)
	assert.Contains(t, canceled.Error.Message, "canceled")

	got := invoke[StorageGetResponse](t, reg, room, "storage_get", `{"key":"k","context":{"timeout_ms":60000}}`)
	assert.Nil(t, got.Error)
	assert.False(t, got.Found, "the expired write was not applied")
}

func TestStorageBundle_RequestSizeLimit(t *testing.T) {
	reg, err := NewRegistry(
		WithMiddleware(SizeLimitMiddleware(MaxRequestBytes)),
		WithBundle(StorageBundle(memstore.New())),
	)
	require.NoError(t, err)
	room := wasmcontext.WithState(context.Background(), &entities.StateHandle{Class: "Room", ID: "1"})

	largest := strings.Repeat("x", MaxStorageValueBytes)
	put := invoke[StorageResponse](t, reg, room, "storage_put", `{"key":"k","value":"`+largest+`"}`)
	assert.Nil(t, put.Error, "the largest storable value fits the request limit")

	tooLarge := strings.Repeat("x", MaxRequestBytes)
	put = invoke[StorageResponse](t, reg, room, "storage_put", `{"key":"k","value":"`+tooLarge+`"}`)
	require.NotNil(t, put.Error)
	assert.Equal(t, "VALIDATION_ERROR", put.Error.Error)
	assert.Equal(t, "request exceeds host limit", put.Error.Message)
}

func TestEnvBundle(t *testing.T) {
	reg, err := NewRegistry(WithBundle(EnvBundle(map[string]string{"REGION": "eu"})))
	require.NoError(t, err)

	got := invoke[EnvGetResponse](t, reg, context.Background(), "env_get", `{"name":"REGION"}`)
	assert.Equal(t, EnvGetResponse{Value: "eu", Found: true}, got)

	got = invoke[EnvGetResponse](t, reg, context.Background(), "env_get", `{"name":"MISSING"}`)
	assert.False(t, got.Found)
}

func TestAllBundles(t *testing.T) {
	names := make([]string, 0)
	for name := range AllBundles(memstore.New(), nil).Handlers() {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"env_get", "storage_delete", "storage_get", "storage_list", "storage_put"}, names)
}
