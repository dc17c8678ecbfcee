// Package learn maintains the adaptive knowledge base: threat signatures
// harvested from incidents, response playbooks tuned by outcome, and
// optimization hints fed back into detection thresholds.
package learn

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

const responseTimeWindow = 100

// ProcessSignature records a malware process name seen in incidents.
type ProcessSignature struct {
	FirstSeen     time.Time         `json:"first_seen"`
	Confidence    float64           `json:"confidence"`
	ThreatLevel   model.ThreatLevel `json:"threat_level"`
	IncidentCount int               `json:"incident_count"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// PatternSignature is a named behavioral or network indicator.
type PatternSignature struct {
	Description      string  `json:"description"`
	Confidence       float64 `json:"confidence"`
	ResponsePriority string  `json:"response_priority"`
}

// ThreatSignatures is the signature arm of the knowledge base.
type ThreatSignatures struct {
	MaliciousProcesses  map[string]ProcessSignature `json:"malicious_processes"`
	SuspiciousPatterns  map[string]PatternSignature `json:"suspicious_patterns"`
	NetworkIndicators   map[string]PatternSignature `json:"network_indicators"`
	BehavioralAnomalies map[string]PatternSignature `json:"behavioral_anomalies"`
}

// Playbook is an ordered action list per response phase.
type Playbook struct {
	ImmediateActions       []string `json:"immediate_actions"`
	ContainmentActions     []string `json:"containment_actions"`
	RecoveryActions        []string `json:"recovery_actions"`
	PreventionEnhancements []string `json:"prevention_enhancements"`
}

// OptimizationRules carries tuning hints derived from observed outcomes.
type OptimizationRules struct {
	ThresholdAdjustments map[string]string  `json:"threshold_adjustments"`
	PatternWeights       map[string]float64 `json:"pattern_weights"`
	ResponsePriorities   map[string]string  `json:"response_priorities"`
}

// KnowledgeBase is everything the learner has accumulated.
type KnowledgeBase struct {
	ThreatSignatures  ThreatSignatures    `json:"threat_signatures"`
	ResponsePlaybooks map[string]Playbook `json:"response_playbooks"`
	OptimizationRules OptimizationRules   `json:"optimization_rules"`
}

// PerformanceMetrics summarizes learner-observed response quality. A true
// positive is an incident whose propagation stayed LOW or MEDIUM.
type PerformanceMetrics struct {
	TruePositives          int     `json:"true_positives"`
	FalsePositives         int     `json:"false_positives"`
	ContainmentSuccessRate float64 `json:"containment_success_rate"`
	AvgResponseTimeSeconds float64 `json:"average_response_time_seconds"`
	TotalIncidentsLearned  int     `json:"total_incidents_learned"`
}

// Summary reports what one incident contributed.
type Summary struct {
	UpdatesApplied int                `json:"updates_applied"`
	Metrics        PerformanceMetrics `json:"performance_metrics"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Learner digests completed incidents into the knowledge base.
type Learner struct {
	logger *slog.Logger

	mu             sync.RWMutex
	kb             KnowledgeBase
	truePositives  int
	falsePositives int
	responseTimes  *ringbuf.Ring[float64]
}

// NewLearner returns a learner seeded with the stock playbooks.
func NewLearner(logger *slog.Logger) *Learner {
	return &Learner{
		logger:        logger,
		kb:            defaultKnowledgeBase(),
		responseTimes: ringbuf.New[float64](responseTimeWindow),
	}
}

// LearnFromIncident folds one completed incident into the knowledge base
// and updates the performance metrics.
func (l *Learner) LearnFromIncident(rec model.IncidentRecord) Summary {
	l.logger.Info("learning from incident", "incident_id", rec.IncidentID)

	l.mu.Lock()
	defer l.mu.Unlock()

	applied := l.updateSignatures(rec)
	l.updateMetrics(rec)
	applied += l.optimizePlaybooks(rec)
	applied += l.updateOptimizationRules()

	return Summary{
		UpdatesApplied: applied,
		Metrics:        l.metricsLocked(),
		Timestamp:      time.Now().UTC(),
	}
}

func (l *Learner) updateSignatures(rec model.IncidentRecord) int {
	applied := 0
	now := time.Now().UTC()

	if proc := rec.Alert.MalwareProcess; proc != "" {
		sig, seen := l.kb.ThreatSignatures.MaliciousProcesses[proc]
		if !seen {
			sig = ProcessSignature{FirstSeen: now}
		}
		sig.Confidence = rec.Classification.ConfidenceScore
		sig.ThreatLevel = rec.Alert.ThreatLevel
		sig.IncidentCount++
		sig.LastUpdated = now
		l.kb.ThreatSignatures.MaliciousProcesses[proc] = sig
		applied++
	}

	patterns := rec.Alert.ForensicData.FileAccessPatterns
	if patterns.EncryptionDetected {
		l.kb.ThreatSignatures.SuspiciousPatterns["rapid_file_encryption"] = PatternSignature{
			Description:      "Rapid file encryption pattern detected",
			Confidence:       0.9,
			ResponsePriority: "HIGH",
		}
		applied++
	}
	if patterns.RansomNoteFound {
		l.kb.ThreatSignatures.SuspiciousPatterns["ransomware_indicators"] = PatternSignature{
			Description:      "Ransom note and encryption patterns",
			Confidence:       0.95,
			ResponsePriority: "CRITICAL",
		}
		applied++
	}

	for _, conn := range rec.Alert.ForensicData.NetworkConnections {
		if strings.EqualFold(conn.Protocol, "SMB") && conn.Direction == "outbound" {
			l.kb.ThreatSignatures.NetworkIndicators["suspicious_smb_lateral"] = PatternSignature{
				Description:      "SMB lateral movement attempts",
				Confidence:       0.8,
				ResponsePriority: "HIGH",
			}
			applied++
			break
		}
	}
	return applied
}

// optimizePlaybooks tightens the ransomware playbook when the coordinated
// response failed to contain propagation.
func (l *Learner) optimizePlaybooks(rec model.IncidentRecord) int {
	if !strings.Contains(strings.ToUpper(rec.Classification.AttackClassification), "RANSOMWARE") {
		return 0
	}
	if responseEffectiveness(rec.RiskAssessment.PropagationLikelihood) >= 0.7 {
		return 0
	}

	playbook := l.kb.ResponsePlaybooks["ransomware"]
	playbook.ImmediateActions = []string{
		"enhanced_network_isolation",
		"immediate_backup_trigger",
	}
	playbook.ContainmentActions = []string{
		"strict_file_system_lockdown",
		"aggressive_process_termination",
	}
	l.kb.ResponsePlaybooks["ransomware"] = playbook

	l.logger.Info("ransomware playbook tightened after weak containment",
		"incident_id", rec.IncidentID,
		"propagation_likelihood", rec.RiskAssessment.PropagationLikelihood)
	return 1
}

// responseEffectiveness maps observed propagation to how well the response
// worked. High propagation after a response means it was not effective.
func responseEffectiveness(propagationLikelihood string) float64 {
	switch propagationLikelihood {
	case model.PropagationVeryHigh:
		return 0.2
	case model.PropagationHigh:
		return 0.4
	case model.PropagationMedium:
		return 0.7
	case model.PropagationLow:
		return 0.9
	default:
		return 0.5
	}
}

func (l *Learner) updateOptimizationRules() int {
	total := l.truePositives + l.falsePositives
	if total == 0 {
		return 0
	}
	fpRate := float64(l.falsePositives) / float64(total)
	if fpRate <= 0.1 {
		return 0
	}
	l.kb.OptimizationRules.ThresholdAdjustments = map[string]string{
		"suspicion_threshold":  "increase_by_10_percent",
		"confidence_threshold": "increase_by_5_percent",
	}
	return 1
}

func (l *Learner) updateMetrics(rec model.IncidentRecord) {
	if !rec.Alert.Timestamp.IsZero() && !rec.ResponseTimestamp.IsZero() {
		l.responseTimes.Append(rec.ResponseTimestamp.Sub(rec.Alert.Timestamp).Seconds())
	}
	switch rec.RiskAssessment.PropagationLikelihood {
	case model.PropagationLow, model.PropagationMedium:
		l.truePositives++
	default:
		l.falsePositives++
	}
}

func (l *Learner) metricsLocked() PerformanceMetrics {
	total := l.truePositives + l.falsePositives
	m := PerformanceMetrics{
		TruePositives:         l.truePositives,
		FalsePositives:        l.falsePositives,
		TotalIncidentsLearned: total,
	}
	if total > 0 {
		m.ContainmentSuccessRate = float64(l.truePositives) / float64(total)
	}
	times := l.responseTimes.Snapshot()
	if len(times) > 0 {
		var sum float64
		for _, t := range times {
			sum += t
		}
		m.AvgResponseTimeSeconds = sum / float64(len(times))
	}
	return m
}

// Metrics returns a snapshot of the performance metrics.
func (l *Learner) Metrics() PerformanceMetrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metricsLocked()
}

// OptimizedResponse returns the current best action list for a threat type
// at a given risk level, drawn from the possibly tuned playbooks.
func (l *Learner) OptimizedResponse(threatType, riskLevel string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	playbook, ok := l.kb.ResponsePlaybooks[strings.ToLower(threatType)]
	if !ok {
		return nil
	}
	switch riskLevel {
	case model.RiskCritical:
		out := append([]string(nil), playbook.ImmediateActions...)
		return append(out, playbook.ContainmentActions...)
	case model.RiskHigh:
		return append([]string(nil), playbook.ContainmentActions...)
	default:
		return append([]string(nil), playbook.RecoveryActions...)
	}
}

// Knowledge returns a deep copy of the knowledge base.
func (l *Learner) Knowledge() KnowledgeBase {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kb := KnowledgeBase{
		ThreatSignatures: ThreatSignatures{
			MaliciousProcesses:  copyMap(l.kb.ThreatSignatures.MaliciousProcesses),
			SuspiciousPatterns:  copyMap(l.kb.ThreatSignatures.SuspiciousPatterns),
			NetworkIndicators:   copyMap(l.kb.ThreatSignatures.NetworkIndicators),
			BehavioralAnomalies: copyMap(l.kb.ThreatSignatures.BehavioralAnomalies),
		},
		ResponsePlaybooks: copyMap(l.kb.ResponsePlaybooks),
		OptimizationRules: OptimizationRules{
			ThresholdAdjustments: copyMap(l.kb.OptimizationRules.ThresholdAdjustments),
			PatternWeights:       copyMap(l.kb.OptimizationRules.PatternWeights),
			ResponsePriorities:   copyMap(l.kb.OptimizationRules.ResponsePriorities),
		},
	}
	return kb
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
