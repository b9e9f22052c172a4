package lifecycle

import (
	"context"
	"sync"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/fault"
)

// Handle is a reference to one entrypoint pinned to the generation that was
// current when it was resolved. It keeps that generation's module open until
// released.
type Handle struct {
	c    *Controller
	ep   *epoch
	rec  *Record
	args entities.ConstructorArgs
	once sync.Once
}

// Generation returns the generation the handle is pinned to.
func (h *Handle) Generation() entities.Generation {
	return h.ep.gen
}

// Key returns the entrypoint the handle addresses.
func (h *Handle) Key() entities.InstanceKey {
	return h.rec.key
}

// Invoke calls method on the entrypoint's live object.
//
// Currency is checked after the generation's execution lock is acquired: if
// a fault superseded the generation while the call was waiting, Invoke
// returns without running guest code and the caller must resolve again. A
// stale live object is rebuilt inside the same call before the method runs.
//
// A ctx that ended while the call was waiting fails the call with ctx.Err()
// before any guest code runs, since entering the guest with a done ctx
// closes the shared instance.
func (h *Handle) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	ep := h.ep
	ep.exec.Lock()
	defer ep.exec.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.c.CheckAndAdvance(ctx)
	if !h.c.isCurrent(ep) {
		return nil, errSuperseded
	}

	ctx = fault.WithGeneration(ctx, ep.gen)
	obj, err := h.c.materialize(ctx, ep, h.rec, h.args)
	if err != nil {
		return nil, err
	}

	out, err := obj.Invoke(ctx, method, payload)
	if err = h.c.settle(ctx, ep, err); err != nil {
		return nil, err
	}
	return out, nil
}

// Release drops the handle's reference to its generation. It is safe to call
// more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.c.release(h.ep)
	})
}
