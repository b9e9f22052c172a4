package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	"github.com/reglet-dev/reglet-workers/fault"
)

// ErrClosed is returned by a Controller that has been closed.
var ErrClosed = errors.New("lifecycle controller closed")

// errSuperseded is returned by Handle.Invoke when the handle's generation was
// superseded before any guest code ran. The call is safe to re-resolve.
var errSuperseded = errors.New("generation superseded")

// Target names the entrypoint a call is addressed to and how to build it.
type Target struct {
	Constructor ports.Constructor
	Key         entities.InstanceKey
	Args        entities.ConstructorArgs
}

// epoch is one generation's module instance.
type epoch struct {
	mod ports.Module
	// exec serializes guest execution within the generation.
	exec sync.Mutex
	gen  entities.Generation

	// Guarded by Controller.mu.
	refs       int
	superseded bool
	closed     bool
}

// Controller owns the generation counter, the current module instance and
// the instance-record table.
type Controller struct {
	modules ports.ModuleFactory
	monitor *fault.Monitor
	factory *Factory
	logger  *slog.Logger
	metrics *Metrics
	current *epoch
	records map[entities.InstanceKey]*Record
	group   singleflight.Group
	mu      sync.Mutex
	gen     entities.Generation
	closed  bool
}

// NewController creates a Controller. Generation 1 is current from the start;
// its module instance is created on first use.
func NewController(modules ports.ModuleFactory, monitor *fault.Monitor, opts ...Option) *Controller {
	c := &Controller{
		modules: modules,
		monitor: monitor,
		factory: NewFactory(nil),
		logger:  slog.Default(),
		records: make(map[entities.InstanceKey]*Record),
		gen:     1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.metrics.generation.Set(float64(c.gen))
	return c
}

// CurrentGeneration returns the current generation.
func (c *Controller) CurrentGeneration() entities.Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// CheckAndAdvance consumes the pending fault and supersedes the current
// generation if the fault originated in it. It reports whether a bump
// occurred. Faults from generations that are already superseded are
// discarded, so any number of concurrent faults in one generation cause a
// single bump.
func (c *Controller) CheckAndAdvance(ctx context.Context) bool {
	if !c.monitor.Pending() {
		return false
	}

	c.mu.Lock()
	rec, ok := c.monitor.Take()
	if !ok || (rec.Generation != 0 && rec.Generation != c.gen) {
		c.mu.Unlock()
		return false
	}

	from := c.gen
	c.gen++
	to := c.gen
	old := c.current
	c.current = nil
	retire := false
	if old != nil {
		old.superseded = true
		retire = c.markClosedLocked(old)
	}
	c.mu.Unlock()

	c.metrics.bumps.Inc()
	c.metrics.generation.Set(float64(to))
	c.logger.WarnContext(ctx, "generation advanced",
		"from", uint64(from),
		"to", uint64(to),
		"kind", rec.Kind,
		"reason", rec.Message)

	if retire {
		c.retire(old)
	}
	return true
}

// Resolve returns a handle to target valid for the current generation,
// instantiating the generation's module if needed. The handle must be
// released.
func (c *Controller) Resolve(ctx context.Context, target Target) (*Handle, error) {
	if target.Constructor == nil {
		return nil, fmt.Errorf("resolve %s: no constructor", target.Key)
	}

	c.CheckAndAdvance(ctx)

	ep, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rec := c.record(target)
	return &Handle{c: c, ep: ep, rec: rec, args: rec.rebind(target.Args)}, nil
}

// Invoke resolves target and calls method on its live object. A call whose
// generation is superseded before it reaches guest code is re-resolved
// against the new generation; no other failure is retried.
func (c *Controller) Invoke(ctx context.Context, target Target, method string, payload []byte) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h, err := c.Resolve(ctx, target)
		if err != nil {
			return nil, err
		}

		out, err := h.Invoke(ctx, method, payload)
		h.Release()
		if errors.Is(err, errSuperseded) {
			c.metrics.redispatches.Inc()
			continue
		}
		return out, err
	}
}

// Records returns a snapshot of every instance record, sorted by key.
func (c *Controller) Records() []RecordInfo {
	c.mu.Lock()
	gen := c.gen
	recs := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		recs = append(recs, r)
	}
	c.mu.Unlock()

	infos := make([]RecordInfo, 0, len(recs))
	for _, r := range recs {
		infos = append(infos, r.info(gen))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key.String() < infos[j].Key.String()
	})
	return infos
}

// Close closes the current module instance once no handle holds it.
// Subsequent calls fail with ErrClosed.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ep := c.current
	c.current = nil
	retire := false
	if ep != nil {
		ep.superseded = true
		retire = c.markClosedLocked(ep)
	}
	c.mu.Unlock()

	if retire {
		c.retire(ep)
	}
	c.logger.InfoContext(ctx, "lifecycle controller closed")
	return nil
}

// acquire returns the current epoch with a reference held, instantiating it
// if the current generation has no module yet.
func (c *Controller) acquire(ctx context.Context) (*epoch, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if ep := c.current; ep != nil {
			ep.refs++
			c.mu.Unlock()
			return ep, nil
		}
		gen := c.gen
		c.mu.Unlock()

		// The instance outlives the caller that happens to build it.
		buildCtx := context.WithoutCancel(ctx)
		_, err, _ := c.group.Do(gen.String(), func() (any, error) {
			return nil, c.instantiate(buildCtx, gen)
		})
		if err != nil {
			return nil, err
		}
	}
}

// instantiate creates the module instance of gen, unless it exists already or
// gen is no longer current.
func (c *Controller) instantiate(ctx context.Context, gen entities.Generation) error {
	c.mu.Lock()
	stale := c.closed || c.gen != gen || c.current != nil
	c.mu.Unlock()
	if stale {
		return nil
	}

	mod, err := c.modules.Instantiate(ctx)
	if err != nil {
		c.metrics.rebuildFailures.WithLabelValues(instanceLabel).Inc()
		c.logger.ErrorContext(ctx, "module instantiation failed",
			"generation", uint64(gen),
			"critical", fault.IsCritical(err),
			"error", err)
		return &werrors.RebuildError{Err: err, Generation: gen}
	}

	c.mu.Lock()
	if c.closed || c.gen != gen || c.current != nil {
		c.mu.Unlock()
		_ = mod.Close(ctx)
		return nil
	}
	c.current = &epoch{mod: mod, gen: gen}
	c.mu.Unlock()

	c.metrics.rebuilds.WithLabelValues(instanceLabel).Inc()
	c.metrics.liveGenerations.Inc()
	c.logger.InfoContext(ctx, "module instantiated", "generation", uint64(gen))
	return nil
}

// record returns the record for target.Key, creating it on first use.
func (c *Controller) record(target Target) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.records[target.Key]; ok {
		return r
	}
	r := &Record{
		key:         target.Key,
		constructor: target.Constructor,
		args:        target.Args,
	}
	c.records[target.Key] = r
	return r
}

// isCurrent reports whether ep is still the current generation.
func (c *Controller) isCurrent(ep *epoch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !ep.superseded && c.current == ep
}

// release drops one reference to ep and closes it if it was the last one on
// a superseded generation.
func (c *Controller) release(ep *epoch) {
	c.mu.Lock()
	ep.refs--
	retire := c.markClosedLocked(ep)
	c.mu.Unlock()

	if retire {
		c.retire(ep)
	}
}

func (c *Controller) markClosedLocked(ep *epoch) bool {
	if ep.superseded && ep.refs == 0 && !ep.closed {
		ep.closed = true
		return true
	}
	return false
}

// retire closes a superseded module instance and drops the live objects
// built in it.
func (c *Controller) retire(ep *epoch) {
	if err := ep.mod.Close(context.Background()); err != nil {
		c.logger.Warn("closing superseded module failed", "generation", uint64(ep.gen), "error", err)
	}

	c.mu.Lock()
	recs := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		recs = append(recs, r)
	}
	c.mu.Unlock()

	for _, r := range recs {
		r.drop(ep.gen)
	}

	c.metrics.liveGenerations.Dec()
	c.logger.Debug("superseded generation closed", "generation", uint64(ep.gen))
}

// materialize returns rec's live object for ep, constructing it from args if
// it was built in an older generation. It runs with ep.exec held.
func (c *Controller) materialize(ctx context.Context, ep *epoch, rec *Record, args entities.ConstructorArgs) (ports.Object, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch {
	case rec.generation == ep.gen && rec.object != nil:
		return rec.object, nil
	case rec.generation > ep.gen:
		return nil, errSuperseded
	}

	prev := rec.generation
	obj, err := c.factory.Construct(ctx, ep.mod, rec.key, rec.constructor, args)
	if err != nil {
		c.metrics.rebuildFailures.WithLabelValues(targetLabel(rec.key)).Inc()
		return nil, &werrors.RebuildError{Err: c.settle(ctx, ep, err), Key: rec.key, Generation: ep.gen}
	}

	rec.object = obj
	rec.generation = ep.gen
	c.metrics.rebuilds.WithLabelValues(targetLabel(rec.key)).Inc()
	if prev != 0 {
		c.logger.DebugContext(ctx, "instance rebuilt",
			"key", rec.key.String(),
			"from", uint64(prev),
			"to", uint64(ep.gen))
	}
	return obj, nil
}

// settle classifies the outcome of a guest call made against ep. Critical
// faults are recorded with the monitor and returned as CriticalFaultError;
// benign errors are returned unchanged.
func (c *Controller) settle(ctx context.Context, ep *epoch, err error) error {
	_, reported := fault.ReportedFrom(ctx)
	if err == nil && !reported {
		return nil
	}
	if err == nil {
		err = werrors.ErrFaultReported
	}

	rec := c.monitor.Observe(ctx, err)
	if !rec.IsCritical() {
		return err
	}
	return &werrors.CriticalFaultError{
		Err:        err,
		Kind:       rec.Kind,
		Message:    rec.Message,
		Generation: ep.gen,
	}
}
