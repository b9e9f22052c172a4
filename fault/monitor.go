package fault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

// Observer is notified of every critical fault recorded by a Monitor.
type Observer func(entities.FaultRecord)

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used to report critical faults.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver registers an observer for critical faults.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observers = append(m.observers, o)
	}
}

// Monitor records critical faults and exposes the pending-fault flag.
//
// Faults coalesce: while a fault is pending, further faults from the same or
// an older generation are counted but do not replace it. A fault from a newer
// generation replaces an older pending one.
type Monitor struct {
	logger    *slog.Logger
	pending   *entities.FaultRecord
	observers []Observer
	mu        sync.Mutex
	flag      atomic.Bool
	total     atomic.Uint64
}

// NewMonitor creates a Monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReportCritical records a critical fault signaled from inside guest code,
// typically by a panic hook right before the guest traps. The origin
// generation is taken from ctx.
func (m *Monitor) ReportCritical(ctx context.Context, message string) {
	rec := entities.FaultRecord{
		Classification: entities.Critical,
		Kind:           entities.FaultReported,
		Message:        message,
	}
	if cs := callStateFrom(ctx); cs != nil {
		rec.Generation = cs.generation
		cs.report(rec)
	}
	m.record(rec)
}

// ReportHostPanic records a panic raised by a host function while guest code
// was on the stack.
func (m *Monitor) ReportHostPanic(ctx context.Context, value any) {
	rec := entities.FaultRecord{
		Classification: entities.Critical,
		Kind:           entities.FaultPanic,
		Message:        fmt.Sprint(value),
	}
	if cs := callStateFrom(ctx); cs != nil {
		rec.Generation = cs.generation
		cs.report(rec)
	}
	m.record(rec)
}

// ObserveHostTrap classifies an error returned by a guest call and records it
// when it is critical.
func (m *Monitor) ObserveHostTrap(ctx context.Context, err error) entities.FaultClassification {
	return m.Observe(ctx, err).Classification
}

// Observe is ObserveHostTrap returning the full fault record. A fault reported
// through the guest hook during the same call takes precedence over the trap
// that followed it, since it carries the guest's own diagnostic.
func (m *Monitor) Observe(ctx context.Context, err error) entities.FaultRecord {
	cs := callStateFrom(ctx)
	if cs != nil {
		if rec, ok := cs.reported(); ok {
			// Already recorded by ReportCritical or ReportHostPanic.
			return rec
		}
	}

	rec := Classify(err)
	if !rec.IsCritical() {
		return rec
	}
	if cs != nil {
		rec.Generation = cs.generation
	}
	m.record(rec)
	return rec
}

// Pending reports whether a critical fault is waiting to be consumed.
func (m *Monitor) Pending() bool {
	return m.flag.Load()
}

// Take consumes the pending fault, if any.
func (m *Monitor) Take() (entities.FaultRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return entities.FaultRecord{}, false
	}
	rec := *m.pending
	m.pending = nil
	m.flag.Store(false)
	return rec, true
}

// Total returns the number of critical faults recorded so far, including
// coalesced ones.
func (m *Monitor) Total() uint64 {
	return m.total.Load()
}

func (m *Monitor) record(rec entities.FaultRecord) {
	m.mu.Lock()
	if m.pending == nil || rec.Generation > m.pending.Generation {
		r := rec
		m.pending = &r
	}
	m.flag.Store(true)
	m.mu.Unlock()

	m.total.Add(1)
	m.logger.Error("critical fault",
		"kind", rec.Kind,
		"generation", uint64(rec.Generation),
		"message", rec.Message)
	for _, o := range m.observers {
		o(rec)
	}
}
