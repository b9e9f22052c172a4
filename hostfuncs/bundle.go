package hostfuncs

import (
	"context"

	"github.com/reglet-dev/reglet-workers/domain/ports"
)

// HostFuncBundle is a named group of related host functions.
type HostFuncBundle interface {
	Handlers() map[string]ByteHandler
}

type staticBundle map[string]ByteHandler

func (b staticBundle) Handlers() map[string]ByteHandler { return b }

// StorageBundle serves durable object storage from store:
// storage_get, storage_put, storage_delete, storage_list.
func StorageBundle(store ports.StateStore) HostFuncBundle {
	return staticBundle{
		"storage_get": NewJSONHandler(func(ctx context.Context, req StorageGetRequest) StorageGetResponse {
			return PerformStorageGet(ctx, store, req)
		}),
		"storage_put": NewJSONHandler(func(ctx context.Context, req StoragePutRequest) StorageResponse {
			return PerformStoragePut(ctx, store, req)
		}),
		"storage_delete": NewJSONHandler(func(ctx context.Context, req StorageDeleteRequest) StorageResponse {
			return PerformStorageDelete(ctx, store, req)
		}),
		"storage_list": NewJSONHandler(func(ctx context.Context, req StorageListRequest) StorageListResponse {
			return PerformStorageList(ctx, store, req)
		}),
	}
}

// EnvBundle serves the worker's env bindings: env_get.
func EnvBundle(env map[string]string) HostFuncBundle {
	return staticBundle{
		"env_get": NewJSONHandler(func(_ context.Context, req EnvGetRequest) EnvGetResponse {
			return PerformEnvGet(env, req)
		}),
	}
}

type compositeBundle []HostFuncBundle

func (b compositeBundle) Handlers() map[string]ByteHandler {
	out := make(map[string]ByteHandler)
	for _, bundle := range b {
		for name, h := range bundle.Handlers() {
			out[name] = h
		}
	}
	return out
}

// AllBundles combines the storage and env bundles.
func AllBundles(store ports.StateStore, env map[string]string) HostFuncBundle {
	return compositeBundle{StorageBundle(store), EnvBundle(env)}
}
