// Package coordinate turns a classified incident into a network-wide
// response: risk assessment, plan selection, emergency protocol and
// command dispatch to the infected and exposed agents.
package coordinate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quadshield/quadshield/internal/model"
)

// Dispatcher delivers containment commands to agents. Implementations are
// expected to be safe for concurrent use.
type Dispatcher interface {
	DispatchCommands(ctx context.Context, agentID string, msg model.CommandMessage) error
	BroadcastEmergency(ctx context.Context, mode model.EmergencyMode) error
}

// commonCriticalAssets are infrastructure roles assumed reachable from any
// compromised segment and therefore always listed as at risk.
var commonCriticalAssets = []string{
	"domain-controller",
	"file-server",
	"backup-system",
	"database-server",
}

// Outcome is the full result of coordinating one incident.
type Outcome struct {
	RiskAssessment model.RiskAssessment `json:"risk_assessment"`
	ResponsePlan   model.ResponsePlan   `json:"response_plan"`
	DispatchedTo   []string             `json:"dispatched_to"`
	EmergencyMode  bool                 `json:"emergency_mode"`
}

// Engine assesses risk and drives the coordinated response. Emergency modes
// are tracked per incident until explicitly deactivated.
type Engine struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	mu             sync.RWMutex
	emergencyModes map[string]model.EmergencyMode
}

// NewEngine returns a coordination engine dispatching through d.
func NewEngine(d Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		dispatcher:     d,
		logger:         logger,
		emergencyModes: make(map[string]model.EmergencyMode),
	}
}

// Coordinate assesses the incident, selects a containment plan and
// dispatches it. Per-agent dispatch failures are logged and skipped so one
// unreachable agent cannot stall the rest of the response.
func (e *Engine) Coordinate(ctx context.Context, incidentID string, alert model.ThreatAlert, class model.Classification, corr model.CorrelationResult) (Outcome, error) {
	e.logger.Info("coordinating response", "incident_id", incidentID, "agent_id", alert.AgentID)

	risk := e.AssessRisk(alert, class, corr)
	plan := selectPlan(risk.RiskLevel, class.RecommendedNetworkResponse)

	emergency := risk.RiskLevel == model.RiskCritical || risk.RiskLevel == model.RiskHigh
	if emergency {
		e.activateEmergency(ctx, incidentID, alert, plan)
	}

	var dispatched []string
	if err := e.dispatcher.DispatchCommands(ctx, alert.AgentID, model.CommandMessage{
		IncidentID: incidentID,
		Commands:   plan.InfectedAgentCommands,
	}); err != nil {
		e.logger.Warn("infected agent unreachable", "agent_id", alert.AgentID, "error", err)
	} else {
		dispatched = append(dispatched, alert.AgentID)
	}

	for _, agentID := range risk.ExposedAgents {
		if agentID == alert.AgentID {
			continue
		}
		if err := e.dispatcher.DispatchCommands(ctx, agentID, model.CommandMessage{
			IncidentID: incidentID,
			Commands:   plan.ExposedAgentCommands,
		}); err != nil {
			e.logger.Warn("exposed agent unreachable", "agent_id", agentID, "error", err)
			continue
		}
		dispatched = append(dispatched, agentID)
	}

	if emergency && len(plan.NetworkWideCommands) > 0 {
		e.logger.Info("network-wide commands issued",
			"incident_id", incidentID, "commands", plan.NetworkWideCommands)
	}

	return Outcome{
		RiskAssessment: risk,
		ResponsePlan:   plan,
		DispatchedTo:   dispatched,
		EmergencyMode:  emergency,
	}, nil
}

// AssessRisk scores the incident on a 0-10 scale and derives the exposure
// picture used for plan selection.
func (e *Engine) AssessRisk(alert model.ThreatAlert, class model.Classification, corr model.CorrelationResult) model.RiskAssessment {
	exposed := corr.PropagationGraph.ExposedNodes

	base := threatWeight(alert.ThreatLevel) * alert.DetectionConfidence *
		(1.0 + 0.1*float64(len(exposed)))
	final := base * class.ConfidenceScore * businessImpactMultiplier(class.BusinessImpact)
	if final > 10 {
		final = 10
	}

	return model.RiskAssessment{
		RiskScore:             final,
		RiskLevel:             riskLevel(final),
		ExposedAgents:         exposed,
		CriticalAssetsAtRisk:  append([]string(nil), commonCriticalAssets...),
		PropagationLikelihood: propagationLikelihood(corr.PropagationGraph),
		BusinessImpact:        class.BusinessImpact,
		ContainmentUrgency:    containmentUrgency(final),
	}
}

func threatWeight(level model.ThreatLevel) float64 {
	switch level {
	case model.ThreatCritical:
		return 10.0
	case model.ThreatHigh:
		return 8.0
	case model.ThreatSuspicious:
		return 5.0
	case model.ThreatNormal:
		return 3.0
	default:
		return 5.0
	}
}

func businessImpactMultiplier(impact string) float64 {
	upper := strings.ToUpper(impact)
	switch {
	case strings.Contains(upper, "HIGH"):
		return 1.5
	case strings.Contains(upper, "MEDIUM"):
		return 1.2
	case strings.Contains(upper, "LOW"):
		return 0.8
	default:
		return 1.0
	}
}

func riskLevel(score float64) string {
	switch {
	case score >= 8.0:
		return model.RiskCritical
	case score >= 6.0:
		return model.RiskHigh
	case score >= 4.0:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func containmentUrgency(score float64) string {
	switch {
	case score >= 8.0:
		return model.UrgencyImmediate
	case score >= 6.0:
		return model.UrgencyUrgent
	case score >= 4.0:
		return model.UrgencyPriority
	default:
		return model.UrgencyMonitor
	}
}

func propagationLikelihood(graph model.PropagationGraph) string {
	switch {
	case len(graph.PropagationPaths) >= 3:
		return model.PropagationVeryHigh
	case len(graph.PropagationPaths) >= 1:
		return model.PropagationHigh
	case len(graph.ExposedNodes) > 0:
		return model.PropagationMedium
	default:
		return model.PropagationLow
	}
}

// selectPlan picks the containment tier. The risk level and the
// classification's recommendation can each force a stronger plan.
func selectPlan(riskLevel string, recommended model.ResponseTier) model.ResponsePlan {
	switch {
	case riskLevel == model.RiskCritical || recommended == model.TierAggressive:
		return aggressiveContainmentPlan()
	case riskLevel == model.RiskHigh || recommended == model.TierTargeted:
		return targetedContainmentPlan()
	default:
		return enhancedMonitoringPlan()
	}
}

func (e *Engine) activateEmergency(ctx context.Context, incidentID string, alert model.ThreatAlert, plan model.ResponsePlan) {
	mode := model.EmergencyMode{
		IncidentID:      incidentID,
		ThreatLevel:     alert.ThreatLevel,
		AffectedAgent:   alert.AgentID,
		ResponseLevel:   plan.ResponseLevel,
		ActivatedAt:     time.Now().UTC(),
		Duration:        plan.Duration,
		RequiredActions: plan.NetworkWideCommands,
	}

	e.mu.Lock()
	e.emergencyModes[incidentID] = mode
	e.mu.Unlock()

	if err := e.dispatcher.BroadcastEmergency(ctx, mode); err != nil {
		e.logger.Warn("emergency broadcast failed", "incident_id", incidentID, "error", err)
	}
	e.logger.Warn("emergency protocol activated",
		"incident_id", incidentID, "response_level", plan.ResponseLevel)
}

// DeactivateEmergency clears the emergency state for an incident. It
// reports whether the incident was in emergency mode.
func (e *Engine) DeactivateEmergency(incidentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.emergencyModes[incidentID]
	delete(e.emergencyModes, incidentID)
	return ok
}

// ActiveEmergencies returns a snapshot of the current emergency modes.
func (e *Engine) ActiveEmergencies() []model.EmergencyMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.EmergencyMode, 0, len(e.emergencyModes))
	for _, m := range e.emergencyModes {
		out = append(out, m)
	}
	return out
}
