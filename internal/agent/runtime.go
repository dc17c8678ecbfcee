// Package agent runs the endpoint side: events flow through the detection
// pipeline, detections become alerts to the central system, and the
// center's commands are executed locally.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quadshield/quadshield/internal/detect"
	"github.com/quadshield/quadshield/internal/metrics"
	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

// actionHistorySize bounds the record of executed containment commands
// carried on outgoing alerts.
const actionHistorySize = 100

// AlertSender delivers an alert to the central system and returns its
// response.
type AlertSender interface {
	SendAlert(ctx context.Context, alert model.ThreatAlert) (model.IncidentResponse, error)
}

// CommandExecutor applies one containment command on the host.
type CommandExecutor interface {
	Execute(ctx context.Context, incidentID, command string) error
}

// LogExecutor records commands without touching the host. It stands in for
// platform-specific executors in tests and dry runs.
type LogExecutor struct {
	Logger *slog.Logger
}

// Execute implements CommandExecutor.
func (e LogExecutor) Execute(_ context.Context, incidentID, command string) error {
	e.Logger.Info("executing containment command", "incident_id", incidentID, "command", command)
	return nil
}

// localFallbackCommands are applied when the central system cannot be
// reached for a detected threat. The agent contains first and reports
// later.
var localFallbackCommands = []string{"restrict_network_access", "enable_enhanced_monitoring"}

// Runtime is the per-host agent loop.
type Runtime struct {
	agentID   string
	pipeline  *detect.Pipeline
	extractor *detect.FeatureExtractor
	forensics *forensicsCollector
	sender    AlertSender
	executor  CommandExecutor
	metrics   *metrics.AgentMetrics
	logger    *slog.Logger

	mu        sync.RWMutex
	emergency *model.EmergencyMode
	actions   *ringbuf.Ring[string]
}

// NewRuntime assembles an agent runtime.
func NewRuntime(agentID string, pipeline *detect.Pipeline, sender AlertSender,
	executor CommandExecutor, m *metrics.AgentMetrics, logger *slog.Logger) *Runtime {
	return &Runtime{
		agentID:   agentID,
		pipeline:  pipeline,
		extractor: detect.NewFeatureExtractor(),
		forensics: newForensicsCollector(),
		sender:    sender,
		executor:  executor,
		metrics:   m,
		logger:    logger,
		actions:   ringbuf.New[string](actionHistorySize),
	}
}

// HandleEvent analyzes one event and, on a detection, raises an alert and
// executes whatever the center answers with.
func (r *Runtime) HandleEvent(ctx context.Context, ev model.Event) model.DetectionRecord {
	start := time.Now()
	record := r.pipeline.Analyze(ev)
	r.metrics.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	r.metrics.DetectionHistogram.Observe(time.Since(start).Seconds())

	r.forensics.Observe(ev, r.extractor.Extract(ev))

	if !record.Verdict.ThreatDetected {
		return record
	}
	r.metrics.DetectionsTotal.WithLabelValues(string(record.Verdict.ThreatLevel)).Inc()

	// Suspicious-band verdicts raise the local posture only. The center is
	// involved once the ensemble reaches high or critical.
	if record.Verdict.ThreatLevel != model.ThreatHigh && record.Verdict.ThreatLevel != model.ThreatCritical {
		r.logger.Info("suspicious activity, enhanced monitoring",
			"agent_id", r.agentID,
			"subject", ev.Subject,
			"confidence", record.Verdict.Confidence)
		return record
	}

	alert := r.buildAlert(ev, record)
	response, err := r.sender.SendAlert(ctx, alert)
	if err != nil {
		r.metrics.AlertSendErrors.Inc()
		r.logger.Error("alert delivery failed, applying local containment",
			"agent_id", r.agentID, "error", err)
		r.RunCommands(ctx, "local", localFallbackCommands)
		return record
	}
	r.metrics.AlertsSentTotal.Inc()
	r.logger.Info("alert acknowledged",
		"incident_id", response.IncidentID, "commands", len(response.AgentCommands))
	r.RunCommands(ctx, response.IncidentID, response.AgentCommands)
	return record
}

// RunCommands executes a command bundle, skipping over individual
// failures. Commands that succeed are recorded as actions taken and carried
// on subsequent alerts.
func (r *Runtime) RunCommands(ctx context.Context, incidentID string, commands []string) {
	for _, cmd := range commands {
		if err := r.executor.Execute(ctx, incidentID, cmd); err != nil {
			r.logger.Warn("containment command failed",
				"incident_id", incidentID, "command", cmd, "error", err)
			continue
		}
		r.metrics.CommandsRunTotal.WithLabelValues(cmd).Inc()
		r.mu.Lock()
		r.actions.Append(cmd)
		r.mu.Unlock()
	}
}

// ActionsTaken returns the recorded containment commands, oldest first.
func (r *Runtime) ActionsTaken() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions.Snapshot()
}

// HandleCommandMessage reacts to commands pushed by the center outside the
// alert request/reply cycle.
func (r *Runtime) HandleCommandMessage(cmd model.CommandMessage) {
	r.logger.Info("received dispatched commands",
		"incident_id", cmd.IncidentID, "commands", len(cmd.Commands))
	r.RunCommands(context.Background(), cmd.IncidentID, cmd.Commands)
}

// HandleEmergency raises the agent's posture for a fleet-wide emergency.
func (r *Runtime) HandleEmergency(mode model.EmergencyMode) {
	r.mu.Lock()
	r.emergency = &mode
	r.mu.Unlock()

	r.logger.Warn("emergency mode activated",
		"incident_id", mode.IncidentID, "response_level", mode.ResponseLevel)
	r.RunCommands(context.Background(), mode.IncidentID, mode.RequiredActions)
}

// ActiveEmergency returns the current emergency state, if any.
func (r *Runtime) ActiveEmergency() *model.EmergencyMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.emergency == nil {
		return nil
	}
	mode := *r.emergency
	return &mode
}

// Analytics exposes the pipeline's detection analytics.
func (r *Runtime) Analytics() detect.Analytics {
	return r.pipeline.Analytics()
}

// AgentID returns this agent's identifier.
func (r *Runtime) AgentID() string {
	return r.agentID
}

// Pipeline exposes the detection pipeline for API handlers.
func (r *Runtime) Pipeline() *detect.Pipeline {
	return r.pipeline
}

func (r *Runtime) buildAlert(ev model.Event, record model.DetectionRecord) model.ThreatAlert {
	process := ""
	if ev.Kind == model.EventProcess {
		process = ev.Subject
	} else if p, ok := ev.Attributes["process_name"].(string); ok {
		process = p
	}
	return model.ThreatAlert{
		AgentID:             r.agentID,
		ThreatLevel:         record.Verdict.ThreatLevel,
		MalwareProcess:      process,
		DetectionConfidence: record.Verdict.Confidence,
		ActionsTaken:        r.ActionsTaken(),
		ForensicData:        r.forensics.Snapshot(),
		Timestamp:           time.Now().UTC(),
	}
}
