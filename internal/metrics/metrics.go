// Package metrics defines the Prometheus instrumentation for the agent and
// central binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AgentMetrics holds the Prometheus metrics exposed by the endpoint agent.
type AgentMetrics struct {
	EventsTotal        *prometheus.CounterVec
	DetectionsTotal    *prometheus.CounterVec
	AlertsSentTotal    prometheus.Counter
	AlertSendErrors    prometheus.Counter
	CommandsRunTotal   *prometheus.CounterVec
	DetectionHistogram prometheus.Histogram
}

// NewAgentMetrics registers the agent metrics on the given registerer.
func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	factory := promauto.With(reg)
	return &AgentMetrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_events_total",
			Help: "Total number of events analyzed, by category",
		}, []string{"category"}),
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_detections_total",
			Help: "Total number of threat detections, by threat level",
		}, []string{"threat_level"}),
		AlertsSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_alerts_sent_total",
			Help: "Total number of threat alerts sent to the central system",
		}),
		AlertSendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "agent_alert_send_errors_total",
			Help: "Total number of alert send failures",
		}),
		CommandsRunTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_commands_run_total",
			Help: "Total number of containment commands executed, by command",
		}, []string{"command"}),
		DetectionHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_detection_duration_seconds",
			Help:    "Duration of one full four-layer analysis",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// CentralMetrics holds the Prometheus metrics exposed by the central system.
type CentralMetrics struct {
	AlertsReceivedTotal   *prometheus.CounterVec
	AlertsInvalidTotal    prometheus.Counter
	IncidentsTotal        *prometheus.CounterVec
	EmergencyModesActive  prometheus.Gauge
	CommandsDispatched    *prometheus.CounterVec
	DispatchErrors        prometheus.Counter
	IncidentDuration      prometheus.Histogram
	ClassifierFallbacks   prometheus.Counter
}

// NewCentralMetrics registers the central metrics on the given registerer.
func NewCentralMetrics(reg prometheus.Registerer) *CentralMetrics {
	factory := promauto.With(reg)
	return &CentralMetrics{
		AlertsReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "central_alerts_received_total",
			Help: "Total number of alerts received, by threat level",
		}, []string{"threat_level"}),
		AlertsInvalidTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "central_alerts_invalid_total",
			Help: "Total number of alerts rejected by schema validation",
		}),
		IncidentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "central_incidents_total",
			Help: "Total number of incidents processed, by response level",
		}, []string{"response_level"}),
		EmergencyModesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "central_emergency_modes_active",
			Help: "Number of currently active emergency modes",
		}),
		CommandsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "central_commands_dispatched_total",
			Help: "Total number of commands dispatched to agents, by scope",
		}, []string{"scope"}),
		DispatchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "central_dispatch_errors_total",
			Help: "Total number of command dispatch failures",
		}),
		IncidentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "central_incident_duration_seconds",
			Help:    "Duration of the full incident pipeline per alert",
			Buckets: prometheus.DefBuckets,
		}),
		ClassifierFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "central_classifier_fallbacks_total",
			Help: "Total number of classifications served by the ultimate fallback",
		}),
	}
}
