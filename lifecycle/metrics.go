package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reglet-dev/reglet-workers/domain/entities"
)

// Metrics are the lifecycle collectors. A nil registerer yields unregistered
// collectors.
type Metrics struct {
	generation      prometheus.Gauge
	liveGenerations prometheus.Gauge
	bumps           prometheus.Counter
	faults          *prometheus.CounterVec
	rebuilds        *prometheus.CounterVec
	rebuildFailures *prometheus.CounterVec
	redispatches    prometheus.Counter
}

// NewMetrics creates the lifecycle collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		generation: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "workers_generation",
			Help: "Current module generation",
		}),
		liveGenerations: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "workers_live_generations",
			Help: "Number of module instances not yet closed, including superseded ones still in use",
		}),
		bumps: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "workers_generation_bumps_total",
			Help: "Number of generation bumps caused by critical faults",
		}),
		faults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "workers_critical_faults_total",
			Help: "Number of critical faults observed, by kind",
		}, []string{"kind"}),
		rebuilds: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "workers_rebuilds_total",
			Help: "Number of module instances and live objects built, by target",
		}, []string{"target"}),
		rebuildFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "workers_rebuild_failures_total",
			Help: "Number of failed module instantiations and object constructions, by target",
		}, []string{"target"}),
		redispatches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "workers_redispatches_total",
			Help: "Number of calls re-resolved because their generation was superseded before they ran",
		}),
	}
}

// ObserveFault counts a critical fault. It is meant to be registered as a
// fault monitor observer.
func (m *Metrics) ObserveFault(rec entities.FaultRecord) {
	m.faults.WithLabelValues(string(rec.Kind)).Inc()
}

// instanceLabel is the rebuilds target of module instantiation.
const instanceLabel = "instance"

func targetLabel(key entities.InstanceKey) string {
	switch {
	case key.IsModule():
		return "module"
	case key.ID == "":
		return "rpc"
	default:
		return "object"
	}
}
