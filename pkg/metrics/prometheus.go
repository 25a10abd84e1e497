// Package metrics exports workflow events as Prometheus metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/disturb/pkg/api"
)

// PrometheusObserver is an api.Observer backed by Prometheus collectors.
type PrometheusObserver struct {
	workflowsStarted   *prometheus.CounterVec
	workflowsFinalized *prometheus.CounterVec
	jobsDispatched     *prometheus.CounterVec
	jobResults         *prometheus.CounterVec
	messagesFailed     *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec

	now     func() time.Time
	started sync.Map // workflow process id -> time.Time
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the collectors and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "disturb",
				Subsystem: "workflows",
				Name:      "started_total",
				Help:      "Total number of workflow contexts created",
			},
			[]string{"workflow"},
		),
		workflowsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "disturb",
				Subsystem: "workflows",
				Name:      "finalized_total",
				Help:      "Total number of workflows that reached a final status",
			},
			[]string{"workflow", "status"},
		),
		jobsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "disturb",
				Subsystem: "jobs",
				Name:      "dispatched_total",
				Help:      "Total number of step jobs sent to step workers",
			},
			[]string{"workflow", "step"},
		),
		jobResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "disturb",
				Subsystem: "jobs",
				Name:      "results_total",
				Help:      "Total number of step job results recorded",
			},
			[]string{"workflow", "step", "status"},
		),
		messagesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "disturb",
				Subsystem: "messages",
				Name:      "failed_total",
				Help:      "Total number of messages whose handling failed",
			},
			[]string{"workflow", "type"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "disturb",
				Subsystem: "workflows",
				Name:      "duration_seconds",
				Help:      "Time from workflow start to its final status, as seen by one manager",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
			},
			[]string{"workflow", "status"},
		),
		now: time.Now,
	}

	for _, c := range []prometheus.Collector{
		o.workflowsStarted,
		o.workflowsFinalized,
		o.jobsDispatched,
		o.jobResults,
		o.messagesFailed,
		o.workflowDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) OnWorkflowStarted(_ context.Context, workflow, id string) {
	o.workflowsStarted.WithLabelValues(workflow).Inc()
	o.started.Store(id, o.now())
}

func (o *PrometheusObserver) OnWorkflowFinalized(_ context.Context, workflow, id string, status api.Status) {
	o.workflowsFinalized.WithLabelValues(workflow, string(status)).Inc()
	if v, ok := o.started.LoadAndDelete(id); ok {
		o.workflowDuration.WithLabelValues(workflow, string(status)).Observe(o.now().Sub(v.(time.Time)).Seconds())
	}
}

func (o *PrometheusObserver) OnStepDispatched(_ context.Context, workflow, _, stepCode string, _ int) {
	o.jobsDispatched.WithLabelValues(workflow, stepCode).Inc()
}

func (o *PrometheusObserver) OnJobResult(_ context.Context, workflow, _, stepCode string, _ int, status api.Status) {
	o.jobResults.WithLabelValues(workflow, stepCode, string(status)).Inc()
}

func (o *PrometheusObserver) OnMessageFailed(_ context.Context, workflow, msgType string, _ error) {
	if msgType == "" {
		msgType = "unknown"
	}
	o.messagesFailed.WithLabelValues(workflow, msgType).Inc()
}
