// Package metrics holds the Prometheus collectors for the incident pipeline and realtime hub
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SubmissionsTotal counts analysis submissions by outcome
	// (no_incident, incident, invalid, upstream_unavailable, persistence_error).
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "pipeline",
		Name:      "submissions_total",
		Help:      "Analysis results submitted to the pipeline, labeled by outcome.",
	}, []string{"outcome"})

	// IncidentsCreatedTotal counts persisted incidents by severity.
	IncidentsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "pipeline",
		Name:      "incidents_created_total",
		Help:      "Incidents created by the pipeline, labeled by severity.",
	}, []string{"severity"})

	NotificationsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "pipeline",
		Name:      "notifications_created_total",
		Help:      "Notification rows written by fan-out.",
	})

	EmergenciesCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "pipeline",
		Name:      "emergencies_created_total",
		Help:      "Emergencies created by automatic escalation, labeled by emergency type.",
	}, []string{"type"})

	// StageFailuresTotal counts swallowed failures in post-persistence stages (fanout, escalation, broadcast).
	StageFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Non-fatal failures after an incident was persisted, labeled by stage.",
	}, []string{"stage"})

	ProcessingDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trafficguard",
		Subsystem: "pipeline",
		Name:      "processing_duration_seconds",
		Help:      "Time from accepting an analysis result to the pipeline response.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	RealtimeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trafficguard",
		Subsystem: "realtime",
		Name:      "sessions",
		Help:      "Currently connected websocket sessions.",
	})

	RealtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Events broadcast by the hub, labeled by event name.",
	}, []string{"event"})

	// RealtimeDroppedTotal counts frames skipped because a session's send buffer was full.
	RealtimeDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficguard",
		Subsystem: "realtime",
		Name:      "dropped_total",
		Help:      "Frames dropped for slow websocket sessions.",
	})
)

// Register registers all collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			IncidentsCreatedTotal,
			NotificationsCreatedTotal,
			EmergenciesCreatedTotal,
			StageFailuresTotal,
			ProcessingDurationSeconds,
			RealtimeSessions,
			RealtimeEventsTotal,
			RealtimeDroppedTotal,
		)
	})
}
