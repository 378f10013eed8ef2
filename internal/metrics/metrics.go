package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_rib_actions_dispatched_total",
			Help: "Actions dispatched to the RIB, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalyst_rib_commit_duration_seconds",
			Help:    "Plan+commit latency per dispatched action.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"kind"},
	)

	RouteKeysTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_rib_route_keys",
			Help: "Distinct route keys currently present in the RIB.",
		},
		[]string{},
	)

	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_rib_peers",
			Help: "Known peers by connection status.",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_queue_depth",
			Help: "Pending jobs buffered in the action queue.",
		},
		[]string{},
	)

	QueueDispatchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_queue_dispatch_errors_total",
			Help: "Dispatches the queue forwarded to the RIB that returned an error.",
		},
		[]string{"kind"},
	)

	PortAllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_portalloc_allocations_total",
			Help: "Port allocator Allocate calls, by outcome.",
		},
		[]string{"outcome"},
	)

	PortsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalyst_portalloc_ports_in_use",
			Help: "Ports currently allocated across all configured ranges.",
		},
		[]string{},
	)

	FanoutSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalyst_fanout_send_duration_seconds",
			Help:    "Per-peer propagation send latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"peer"},
	)

	FanoutSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_fanout_send_failures_total",
			Help: "Propagation sends that returned an error, by peer.",
		},
		[]string{"peer"},
	)

	AuditWriteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_audit_write_errors_total",
			Help: "Commit audit log appends that failed.",
		},
		[]string{},
	)

	EventBusPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalyst_eventbus_publish_errors_total",
			Help: "Route-change event bus publishes that failed.",
		},
		[]string{},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default Prometheus
// registry. Safe to call more than once; only the first call registers.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		ActionsDispatchedTotal,
		CommitDuration,
		RouteKeysTotal,
		PeersTotal,
		QueueDepth,
		QueueDispatchErrorsTotal,
		PortAllocationsTotal,
		PortsInUse,
		FanoutSendDuration,
		FanoutSendFailuresTotal,
		AuditWriteErrorsTotal,
		EventBusPublishErrorsTotal,
	)
}
