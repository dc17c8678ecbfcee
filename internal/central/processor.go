// Package central runs the incident pipeline: every inbound alert is
// correlated, classified, coordinated and learned from, and the submitting
// agent always gets an actionable response back.
package central

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quadshield/quadshield/internal/classify"
	"github.com/quadshield/quadshield/internal/coordinate"
	"github.com/quadshield/quadshield/internal/correlate"
	"github.com/quadshield/quadshield/internal/learn"
	"github.com/quadshield/quadshield/internal/metrics"
	"github.com/quadshield/quadshield/internal/model"
)

// Audit step names, in pipeline order.
const (
	StepAlertReceived  = "ALERT_RECEIVED"
	StepCorrelation    = "FORENSIC_CORRELATION"
	StepClassification = "THREAT_CLASSIFICATION"
	StepCoordination   = "RESPONSE_COORDINATION"
	StepLearning       = "ADAPTIVE_LEARNING"
)

// safeDefaultCommands is what an agent is told when the pipeline cannot
// complete. The agent must never be left without guidance.
var safeDefaultCommands = []string{"maintain_isolation", "increase_monitoring"}

// Store is the persistence surface the processor needs.
type Store interface {
	AddAlert(alert model.ThreatAlert) bool
	SaveIncident(rec model.IncidentRecord)
	AppendStep(step model.ProcessingStep)
}

// Processor drives one alert through the full incident pipeline.
type Processor struct {
	store      Store
	correlator *correlate.Correlator
	classifier *classify.Classifier
	engine     *coordinate.Engine
	learner    *learn.Learner
	metrics    *metrics.CentralMetrics
	logger     *slog.Logger
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(store Store, correlator *correlate.Correlator, classifier *classify.Classifier,
	engine *coordinate.Engine, learner *learn.Learner, m *metrics.CentralMetrics, logger *slog.Logger) *Processor {
	return &Processor{
		store:      store,
		correlator: correlator,
		classifier: classifier,
		engine:     engine,
		learner:    learner,
		metrics:    m,
		logger:     logger,
	}
}

// NewIncidentID mints an incident identifier of the form INC-XXXXXXXX.
func NewIncidentID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "INC-" + strings.ToUpper(raw[:8])
}

// HandleAlert runs the pipeline for one alert. It always returns a
// response with at least the safe default commands.
func (p *Processor) HandleAlert(ctx context.Context, alert model.ThreatAlert) model.IncidentResponse {
	start := time.Now()
	p.metrics.AlertsReceivedTotal.WithLabelValues(string(alert.ThreatLevel)).Inc()

	incidentID := NewIncidentID()
	alert.IncidentID = incidentID
	p.logger.Info("incident opened",
		"incident_id", incidentID, "agent_id", alert.AgentID, "threat_level", alert.ThreatLevel)

	if !p.store.AddAlert(alert) {
		p.logger.Warn("duplicate alert delivery ignored",
			"incident_id", incidentID, "agent_id", alert.AgentID)
		return p.safeDefault(incidentID)
	}
	p.step(incidentID, StepAlertReceived, map[string]any{
		"agent_id":     alert.AgentID,
		"threat_level": string(alert.ThreatLevel),
	})

	correlation, err := p.correlator.Correlate(ctx, alert)
	if err != nil {
		p.logger.Error("correlation failed, issuing safe default response",
			"incident_id", incidentID, "error", err)
		return p.safeDefault(incidentID)
	}
	p.step(incidentID, StepCorrelation, map[string]any{
		"related_alerts":   len(correlation.RelatedAlerts),
		"temporal_pattern": correlation.TemporalPattern.Pattern,
	})

	classification, strategy := p.classifier.Classify(ctx, alert, correlation)
	if strategy == classify.UltimateFallbackName {
		p.metrics.ClassifierFallbacks.Inc()
	}
	p.step(incidentID, StepClassification, map[string]any{
		"strategy":              strategy,
		"attack_classification": classification.AttackClassification,
		"confidence":            classification.ConfidenceScore,
	})

	outcome, err := p.engine.Coordinate(ctx, incidentID, alert, classification, correlation)
	if err != nil {
		p.logger.Error("coordination failed, issuing safe default response",
			"incident_id", incidentID, "error", err)
		return p.safeDefault(incidentID)
	}
	p.observeCoordination(alert, outcome)
	p.step(incidentID, StepCoordination, map[string]any{
		"response_level": string(outcome.ResponsePlan.ResponseLevel),
		"risk_score":     outcome.RiskAssessment.RiskScore,
		"dispatched_to":  outcome.DispatchedTo,
	})

	record := model.IncidentRecord{
		IncidentID:        incidentID,
		Alert:             alert,
		Correlation:       correlation,
		Classification:    classification,
		RiskAssessment:    outcome.RiskAssessment,
		ResponsePlan:      outcome.ResponsePlan,
		ResponseTimestamp: time.Now().UTC(),
	}
	p.store.SaveIncident(record)

	summary := p.learner.LearnFromIncident(record)
	p.step(incidentID, StepLearning, map[string]any{
		"updates_applied":          summary.UpdatesApplied,
		"containment_success_rate": summary.Metrics.ContainmentSuccessRate,
	})

	p.metrics.IncidentDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("incident closed",
		"incident_id", incidentID,
		"response_level", outcome.ResponsePlan.ResponseLevel,
		"risk_score", outcome.RiskAssessment.RiskScore)

	risk := outcome.RiskAssessment
	class := classification
	return model.IncidentResponse{
		IncidentID:      incidentID,
		AgentCommands:   outcome.ResponsePlan.InfectedAgentCommands,
		NetworkCommands: outcome.ResponsePlan.NetworkWideCommands,
		RiskAssessment:  &risk,
		Classification:  &class,
	}
}

func (p *Processor) observeCoordination(alert model.ThreatAlert, outcome coordinate.Outcome) {
	p.metrics.IncidentsTotal.WithLabelValues(string(outcome.ResponsePlan.ResponseLevel)).Inc()
	p.metrics.EmergencyModesActive.Set(float64(len(p.engine.ActiveEmergencies())))

	for _, agentID := range outcome.DispatchedTo {
		scope := "exposed"
		if agentID == alert.AgentID {
			scope = "infected"
		}
		p.metrics.CommandsDispatched.WithLabelValues(scope).Inc()
	}

	expected := 1 + len(outcome.RiskAssessment.ExposedAgents)
	for _, agentID := range outcome.RiskAssessment.ExposedAgents {
		if agentID == alert.AgentID {
			expected--
		}
	}
	if failed := expected - len(outcome.DispatchedTo); failed > 0 {
		p.metrics.DispatchErrors.Add(float64(failed))
	}
}

func (p *Processor) step(incidentID, name string, details map[string]any) {
	p.store.AppendStep(model.ProcessingStep{
		IncidentID: incidentID,
		Step:       name,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	})
}

func (p *Processor) safeDefault(incidentID string) model.IncidentResponse {
	return model.IncidentResponse{
		IncidentID:    incidentID,
		AgentCommands: append([]string(nil), safeDefaultCommands...),
	}
}
