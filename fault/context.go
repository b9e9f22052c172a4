package fault

import (
	"context"
	"sync"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

type callStateKey struct{}

// callState follows one guest call. Host functions invoked by the guest
// during the call see it through their context.
type callState struct {
	fault      *entities.FaultRecord
	mu         sync.Mutex
	generation entities.Generation
}

func (cs *callState) report(rec entities.FaultRecord) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.fault == nil {
		cs.fault = &rec
	}
}

func (cs *callState) reported() (entities.FaultRecord, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.fault == nil {
		return entities.FaultRecord{}, false
	}
	return *cs.fault, true
}

// WithGeneration returns a context for one guest call against gen.
// Faults reported while the call runs are attributed to gen.
func WithGeneration(ctx context.Context, gen entities.Generation) context.Context {
	return context.WithValue(ctx, callStateKey{}, &callState{generation: gen})
}

// GenerationFrom returns the generation of the guest call ctx belongs to.
func GenerationFrom(ctx context.Context) (entities.Generation, bool) {
	cs := callStateFrom(ctx)
	if cs == nil {
		return 0, false
	}
	return cs.generation, true
}

// ReportedFrom returns the fault reported during the guest call ctx belongs
// to, if any.
func ReportedFrom(ctx context.Context) (entities.FaultRecord, bool) {
	cs := callStateFrom(ctx)
	if cs == nil {
		return entities.FaultRecord{}, false
	}
	return cs.reported()
}

func callStateFrom(ctx context.Context) *callState {
	cs, _ := ctx.Value(callStateKey{}).(*callState)
	return cs
}
