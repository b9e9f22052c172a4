// Package wazero binds hostfuncs handlers to the wazero runtime and moves
// data across the guest memory boundary.
//
// Every host function takes and returns a packed i64: the upper 32 bits are
// a guest pointer and the lower 32 bits a length. Responses are written into
// memory the guest allocates through its allocate export.
//
//	registry, err := hostfuncs.NewRegistry(
//	    hostfuncs.WithBundle(hostfuncs.StorageBundle(store)),
//	)
//	if err != nil {
//	    return err
//	}
//	err = wazero.RegisterWithRuntime(ctx, runtime, registry,
//	    wazero.WithModuleName("worker_host"),
//	    wazero.WithCustomHandler(logMessage),
//	)
package wazero
