// Package metrics holds the prometheus collectors of ps and worker processes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "adag"

var (
	Gather = prometheus.NewRegistry()

	PSRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ps",
			Name:      "request_total",
			Help:      "Counter of parameter-server requests.",
		}, []string{"shard", "op", "code"})

	PSRequestHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ps",
			Name:      "request_seconds",
			Help:      "Bucketed histogram of parameter-server request processing time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"shard", "op"})

	PSGlobalStepGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "ps",
			Name:      "global_step",
			Help:      "Global step hosted by this parameter server.",
		})

	WorkerLocalStepGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "local_step",
			Help:      "Local optimizer steps applied by the worker.",
		}, []string{"worker"})

	WorkerGlobalStepGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "global_step",
			Help:      "Global step last observed by the worker.",
		}, []string{"worker"})

	WorkerSyncCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "sync_total",
			Help:      "Counter of push/pull synchronizations.",
		}, []string{"worker", "result"})

	WorkerPhaseHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "phase_seconds",
			Help:      "Bucketed histogram of window, push and pull durations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		}, []string{"worker", "phase"})

	WorkerPSHealthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "worker",
			Name:      "ps_healthy",
			Help:      "1 if the parameter-server shard passed its last health check.",
		}, []string{"worker", "ps"})
)

func init() {
	Gather.MustRegister(PSRequestCounter)
	Gather.MustRegister(PSRequestHistogram)
	Gather.MustRegister(PSGlobalStepGauge)
	Gather.MustRegister(WorkerLocalStepGauge)
	Gather.MustRegister(WorkerGlobalStepGauge)
	Gather.MustRegister(WorkerSyncCounter)
	Gather.MustRegister(WorkerPhaseHistogram)
	Gather.MustRegister(WorkerPSHealthGauge)

	Gather.MustRegister(collectors.NewGoCollector())
	Gather.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gather, promhttp.HandlerOpts{})
}
