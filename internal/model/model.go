package model

import (
	"time"
)

// EventKind identifies the source of a raw observation.
type EventKind string

const (
	EventFile    EventKind = "file"
	EventProcess EventKind = "process"
	EventNetwork EventKind = "network"
)

// ThreatLevel is the severity assigned by a detection layer or the ensemble.
type ThreatLevel string

const (
	ThreatNormal     ThreatLevel = "normal"
	ThreatSuspicious ThreatLevel = "suspicious"
	ThreatHigh       ThreatLevel = "high"
	ThreatCritical   ThreatLevel = "critical"
)

// Rank orders threat levels for comparisons; unknown levels rank lowest.
func (t ThreatLevel) Rank() int {
	switch t {
	case ThreatCritical:
		return 3
	case ThreatHigh:
		return 2
	case ThreatSuspicious:
		return 1
	default:
		return 0
	}
}

// Event is a raw observation pushed by an OS monitor. Events are immutable;
// Attributes carries monitor-specific values (file size, cpu usage, remote
// host and so on) that the feature extractor coerces into numeric features.
type Event struct {
	Kind       EventKind      `json:"kind"`
	Subject    string         `json:"subject"`
	Attributes map[string]any `json:"attributes"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// FeatureVector is the numeric projection of one Event.
type FeatureVector struct {
	Category   EventKind          `json:"category"`
	Features   map[string]float64 `json:"features"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Get returns a feature value, defaulting to zero when absent.
func (fv FeatureVector) Get(name string) float64 {
	return fv.Features[name]
}

// Detection layer names as reported in LayerResult.Layer and
// EnsembleVerdict.PrimaryLayer.
const (
	LayerSupervised  = "supervised"
	LayerAnomaly     = "anomaly"
	LayerRules       = "rules"
	LayerSlowPattern = "slow_pattern"
)

// LayerResult is the outcome of one detection layer for one event.
// Confidence is always within [0,1]; ThreatDetected holds exactly when the
// confidence crossed the layer's own threshold.
type LayerResult struct {
	Layer          string         `json:"layer"`
	ThreatDetected bool           `json:"threat_detected"`
	Confidence     float64        `json:"confidence"`
	ThreatLevel    ThreatLevel    `json:"threat_level"`
	DetectionType  string         `json:"detection_type"`
	MatchedRules   []string       `json:"matched_rules,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// EnsembleVerdict is the fused outcome of the four layers. It is derived and
// recomputed per event, never persisted on its own.
type EnsembleVerdict struct {
	ThreatDetected bool               `json:"threat_detected"`
	Confidence     float64            `json:"confidence"`
	ThreatLevel    ThreatLevel        `json:"threat_level"`
	PrimaryLayer   string             `json:"primary_layer"`
	LayerAgreement float64            `json:"layer_agreement"`
	WeightedScores map[string]float64 `json:"weighted_scores"`
	RawScores      map[string]float64 `json:"raw_scores"`
}

// DetectionRecord binds a verdict to its triggering event and the four raw
// layer results, for audit and analytics. Read-only once created.
type DetectionRecord struct {
	Verdict     EnsembleVerdict `json:"verdict"`
	Event       Event           `json:"event"`
	Supervised  LayerResult     `json:"supervised"`
	Anomaly     LayerResult     `json:"anomaly"`
	Rules       LayerResult     `json:"rules"`
	SlowPattern LayerResult     `json:"slow_pattern"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NetworkConnection describes one observed connection in forensic data.
type NetworkConnection struct {
	RemoteHost string `json:"remote_host"`
	Protocol   string `json:"protocol"`
	Port       int    `json:"port"`
	Direction  string `json:"direction"`
	Suspicious bool   `json:"suspicious"`
}

// FileAccessPatterns summarizes file-system evidence attached to an alert.
type FileAccessPatterns struct {
	FilesModified        int      `json:"files_modified"`
	EncryptionDetected   bool     `json:"encryption_detected"`
	RansomNoteFound      bool     `json:"ransom_note_found"`
	ExtensionsChanged    []string `json:"extensions_changed,omitempty"`
	SuspiciousOperations []string `json:"suspicious_operations,omitempty"`
}

// SystemMetrics is the host snapshot attached to an alert.
type SystemMetrics struct {
	CPUUsage     float64 `json:"cpu_usage"`
	MemoryUsage  float64 `json:"memory_usage"`
	DiskActivity string  `json:"disk_activity,omitempty"`
	ProcessCount int     `json:"process_count,omitempty"`
}

// ForensicData is the evidence bundle an agent ships with an alert.
type ForensicData struct {
	FileAccessPatterns FileAccessPatterns  `json:"file_access_patterns"`
	NetworkConnections []NetworkConnection `json:"network_connections"`
	SystemMetrics      SystemMetrics       `json:"system_metrics"`
}

// ThreatAlert is the unit sent from an agent to the central system. The
// incident ID is empty on send; the central system assigns it exactly once
// and echoes it in every derived artifact.
type ThreatAlert struct {
	AgentID             string       `json:"agent_id"`
	IncidentID          string       `json:"incident_id,omitempty"`
	ThreatLevel         ThreatLevel  `json:"threat_level"`
	MalwareProcess      string       `json:"malware_process"`
	DetectionConfidence float64      `json:"detection_confidence"`
	ActionsTaken        []string     `json:"actions_taken,omitempty"`
	ForensicData        ForensicData `json:"forensic_data"`
	Timestamp           time.Time    `json:"timestamp"`
}

// Relationship tags applied to timeline entries derived from related alerts.
const (
	RelDirectlyRelated = "DIRECTLY_RELATED"
	RelLikelyRelated   = "LIKELY_RELATED"
	RelPossiblyRelated = "POSSIBLY_RELATED"
)

// RelatedAlert pairs a stored alert with its similarity to the primary one.
type RelatedAlert struct {
	Alert      ThreatAlert `json:"alert"`
	Similarity float64     `json:"similarity"`
}

// TimelineEvent is one entry of the chronological attack timeline.
type TimelineEvent struct {
	Timestamp    time.Time   `json:"timestamp"`
	Agent        string      `json:"agent"`
	EventType    string      `json:"event_type"`
	Severity     ThreatLevel `json:"severity"`
	Description  string      `json:"description"`
	Similarity   float64     `json:"similarity,omitempty"`
	Relationship string      `json:"relationship,omitempty"`
}

// PropagationPath is one suspected hop in the propagation graph.
type PropagationPath struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Protocol  string    `json:"protocol"`
	Port      int       `json:"port"`
	Timestamp time.Time `json:"timestamp"`
}

// PropagationGraph captures which nodes an incident has touched or exposed.
type PropagationGraph struct {
	PatientZero      string            `json:"patient_zero"`
	InfectedNodes    []string          `json:"infected_nodes"`
	ExposedNodes     []string          `json:"exposed_nodes"`
	ContainedNodes   []string          `json:"contained_nodes"`
	PropagationPaths []PropagationPath `json:"propagation_paths"`
	AttackVector     string            `json:"attack_vector"`
}

// Temporal pattern classifications.
const (
	PatternIsolatedIncident = "ISOLATED_INCIDENT"
	PatternRapidBurst       = "RAPID_BURST"
	PatternCoordinated      = "COORDINATED_ATTACK"
	PatternLowFrequency     = "LOW_FREQUENCY"
)

// TemporalPattern classifies the cadence of related alerts.
type TemporalPattern struct {
	Pattern        string  `json:"pattern"`
	Confidence     float64 `json:"confidence"`
	AvgGapMinutes  float64 `json:"average_time_between_events_minutes,omitempty"`
	SpanMinutes    float64 `json:"total_time_span_minutes,omitempty"`
}

// Indicator is one cross-agent indicator of compromise.
type Indicator struct {
	Type       string   `json:"type"`
	Value      string   `json:"value"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// CorrelationResult is computed fresh per incoming alert; it is derivable
// from the alert store and never persisted standalone.
type CorrelationResult struct {
	RelatedAlerts         []RelatedAlert   `json:"related_alerts"`
	AttackTimeline        []TimelineEvent  `json:"attack_timeline"`
	PropagationGraph      PropagationGraph `json:"propagation_graph"`
	TemporalPattern       TemporalPattern  `json:"temporal_pattern"`
	CorrelationConfidence float64          `json:"correlation_confidence"`
	CrossAgentIndicators  []Indicator      `json:"cross_agent_indicators"`
}

// ResponseTier selects one of the fixed containment command bundles.
type ResponseTier string

const (
	TierAggressive ResponseTier = "AGGRESSIVE_CONTAINMENT"
	TierTargeted   ResponseTier = "TARGETED_CONTAINMENT"
	TierMonitoring ResponseTier = "ENHANCED_MONITORING"
)

// Classification is the threat classifier's assessment of an incident.
type Classification struct {
	AttackClassification       string       `json:"attack_classification"`
	PropagationMethod          string       `json:"propagation_method"`
	EstimatedCompromiseRadius  string       `json:"estimated_compromise_radius"`
	BusinessImpact             string       `json:"business_impact"`
	ConfidenceScore            float64      `json:"confidence_score"`
	RecommendedNetworkResponse ResponseTier `json:"recommended_network_response"`
	PredictedNextTargets       []string     `json:"predicted_next_targets"`
	AnalysisText               string       `json:"analysis_text,omitempty"`
}

// Risk levels and containment urgencies share the same score cutoffs.
const (
	RiskCritical = "CRITICAL"
	RiskHigh     = "HIGH"
	RiskMedium   = "MEDIUM"
	RiskLow      = "LOW"

	UrgencyImmediate = "IMMEDIATE"
	UrgencyUrgent    = "URGENT"
	UrgencyPriority  = "PRIORITY"
	UrgencyMonitor   = "MONITOR"
)

// Propagation likelihood buckets.
const (
	PropagationVeryHigh = "VERY_HIGH"
	PropagationHigh     = "HIGH"
	PropagationMedium   = "MEDIUM"
	PropagationLow      = "LOW"
)

// RiskAssessment is the per-incident network risk computed by the
// coordination engine; RiskScore is capped at 10.
type RiskAssessment struct {
	RiskScore             float64  `json:"risk_score"`
	RiskLevel             string   `json:"risk_level"`
	ExposedAgents         []string `json:"exposed_agents"`
	CriticalAssetsAtRisk  []string `json:"critical_assets_at_risk"`
	PropagationLikelihood string   `json:"propagation_likelihood"`
	BusinessImpact        string   `json:"business_impact"`
	ContainmentUrgency    string   `json:"containment_urgency"`
}

// CommunicationProtocol is the reporting cadence attached to a plan.
type CommunicationProtocol struct {
	UpdatesEvery     string   `json:"updates_every"`
	StatusReports    string   `json:"status_reports"`
	EscalationPoints []string `json:"escalation_points"`
}

// ResponsePlan is a fixed bundle of commands for one containment tier.
type ResponsePlan struct {
	ResponseLevel         ResponseTier          `json:"response_level"`
	Duration              string                `json:"duration"`
	InfectedAgentCommands []string              `json:"infected_agent_commands"`
	ExposedAgentCommands  []string              `json:"exposed_agent_commands"`
	NetworkWideCommands   []string              `json:"network_wide_commands"`
	Communication         CommunicationProtocol `json:"communication_protocol"`
}

// EmergencyMode is the active elevated-response state for one incident.
type EmergencyMode struct {
	IncidentID      string       `json:"incident_id"`
	ThreatLevel     ThreatLevel  `json:"threat_level"`
	AffectedAgent   string       `json:"affected_agent"`
	ResponseLevel   ResponseTier `json:"response_level"`
	ActivatedAt     time.Time    `json:"activated_at"`
	Duration        string       `json:"duration"`
	RequiredActions []string     `json:"required_actions"`
}

// CommandMessage is what the center dispatches to agents.
type CommandMessage struct {
	IncidentID string   `json:"incident_id"`
	Commands   []string `json:"commands"`
}

// IncidentResponse is the reply an agent receives for a submitted alert.
// AgentCommands is never empty: on internal failure the center substitutes
// the safe default plan so the agent always has actionable guidance.
type IncidentResponse struct {
	IncidentID      string          `json:"incident_id"`
	AgentCommands   []string        `json:"agent_commands"`
	NetworkCommands []string        `json:"network_commands"`
	RiskAssessment  *RiskAssessment `json:"risk_assessment,omitempty"`
	Classification  *Classification `json:"classification,omitempty"`
}

// IncidentRecord is the full per-incident artifact handed to the adaptive
// learner once coordination completes.
type IncidentRecord struct {
	IncidentID        string            `json:"incident_id"`
	Alert             ThreatAlert       `json:"alert"`
	Correlation       CorrelationResult `json:"correlation"`
	Classification    Classification    `json:"classification"`
	RiskAssessment    RiskAssessment    `json:"risk_assessment"`
	ResponsePlan      ResponsePlan      `json:"response_plan"`
	ResponseTimestamp time.Time         `json:"response_timestamp"`
}

// ProcessingStep is one audit entry of the central incident pipeline.
type ProcessingStep struct {
	IncidentID string         `json:"incident_id"`
	Step       string         `json:"step"`
	Details    map[string]any `json:"details"`
	Timestamp  time.Time      `json:"timestamp"`
}
