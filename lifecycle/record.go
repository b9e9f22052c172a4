package lifecycle

import (
	"sync"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
)

// RecordState is the lifecycle state of an instance record.
type RecordState string

const (
	StateUninitialized RecordState = "uninitialized"
	StateLive          RecordState = "live"
	StateSuperseded    RecordState = "superseded"
)

// Record binds a logical entrypoint to its live object and the generation
// the object was built in. Records are never removed: the constructor and
// state handle are kept so the entrypoint can be rebuilt with the same
// identity. Env and context are taken from the call that rebuilds it.
type Record struct {
	constructor ports.Constructor
	object      ports.Object
	key         entities.InstanceKey
	args        entities.ConstructorArgs
	mu          sync.Mutex
	generation  entities.Generation
}

// RecordInfo is a point-in-time view of a Record.
type RecordInfo struct {
	Key         entities.InstanceKey `json:"key"`
	Constructor string               `json:"constructor"`
	State       RecordState          `json:"state"`
	Generation  entities.Generation  `json:"generation"`
}

func (r *Record) info(current entities.Generation) RecordInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RecordInfo{
		Key:         r.key,
		Constructor: r.constructor.Name(),
		Generation:  r.generation,
	}
	switch {
	case r.generation == 0:
		info.State = StateUninitialized
	case r.generation < current:
		info.State = StateSuperseded
	default:
		info.State = StateLive
	}
	return info
}

// rebind returns the constructor arguments for a call resolving r: the
// record's identity with the caller's env and context.
func (r *Record) rebind(call entities.ConstructorArgs) entities.ConstructorArgs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return entities.ConstructorArgs{
		State:   r.args.State,
		Env:     call.Env,
		Context: call.Context,
	}
}

// drop releases the live object if it belongs to gen.
func (r *Record) drop(gen entities.Generation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation == gen {
		r.object = nil
	}
}
