package observability

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one engine.
//
// Metrics (all prefixed with "espalier_"):
//   - frames_pushed_total{workflow}
//   - frames_popped_total{workflow,phase}
//   - fields_total{workflow,outcome} - outcome is collected, skipped or rejected
//   - entity_lookups_total{workflow,status}
//   - action_duration_seconds{action,outcome}
//   - turns_total{status}
//   - busy_rejections_total
type Metrics struct {
	FramesPushed   *prometheus.CounterVec
	FramesPopped   *prometheus.CounterVec
	Fields         *prometheus.CounterVec
	EntityLookups  *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
	Turns          *prometheus.CounterVec
	BusyRejections prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer, which only tolerates one call per process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FramesPushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_frames_pushed_total",
				Help: "Total number of workflow frames pushed",
			},
			[]string{"workflow"},
		),
		FramesPopped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_frames_popped_total",
				Help: "Total number of workflow frames popped, by final phase",
			},
			[]string{"workflow", "phase"},
		),
		Fields: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_fields_total",
				Help: "Total number of field answers, by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		EntityLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_entity_lookups_total",
				Help: "Total number of entity lookups, by resulting status",
			},
			[]string{"workflow", "status"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "espalier_action_duration_seconds",
				Help:    "Duration of final action executions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"action", "outcome"},
		),
		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "espalier_turns_total",
				Help: "Total number of processed turns, by response status",
			},
			[]string{"status"},
		),
		BusyRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "espalier_busy_rejections_total",
				Help: "Total number of turns rejected because the session was busy",
			},
		),
	}
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(status domain.Status) {
	m.Turns.WithLabelValues(string(status)).Inc()
}

// RecordBusy counts a turn rejected with domain.ErrSessionBusy.
func (m *Metrics) RecordBusy() {
	m.BusyRejections.Inc()
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnFramePush: func(_ context.Context, e *domain.FrameEvent) {
			m.FramesPushed.WithLabelValues(e.Workflow).Inc()
		},
		OnFramePop: func(_ context.Context, e *domain.FrameEvent) {
			m.FramesPopped.WithLabelValues(e.Workflow, string(e.Phase)).Inc()
		},
		OnFieldCollected: func(_ context.Context, e *domain.FieldEvent) {
			outcome := "collected"
			if e.Skipped {
				outcome = "skipped"
			}
			m.Fields.WithLabelValues(e.Workflow, outcome).Inc()
		},
		OnFieldRejected: func(_ context.Context, e *domain.FieldEvent) {
			m.Fields.WithLabelValues(e.Workflow, "rejected").Inc()
		},
		OnEntityResolved: func(_ context.Context, e *domain.EntityEvent) {
			m.EntityLookups.WithLabelValues(e.Workflow, string(e.Status)).Inc()
		},
		OnActionExecuted: func(_ context.Context, e *domain.ActionEvent) {
			outcome := "success"
			if e.IsError {
				outcome = "error"
			}
			m.ActionDuration.WithLabelValues(e.Action, outcome).Observe(e.Took.Seconds())
		},
	}
}
