// Package classify turns an alert plus its correlation into a threat
// classification. Strategies are tried in a configured order; a strategy
// that fails is dropped for the rest of the session, and a deterministic
// fallback guarantees a classification is always produced.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quadshield/quadshield/internal/model"
)

// UltimateFallbackName identifies the classification path of last resort.
const UltimateFallbackName = "ultimate_fallback"

// Strategy is one interchangeable classification backend.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, alert model.ThreatAlert, corr model.CorrelationResult) (model.Classification, error)
}

// Classifier runs strategies in order until one succeeds. Failed strategies
// are removed from the session's available set so a dead backend is not
// retried on every alert.
type Classifier struct {
	strategies []Strategy
	timeout    time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	available map[string]bool
}

// New builds a classifier over the given strategies, tried in slice order.
func New(logger *slog.Logger, timeout time.Duration, strategies ...Strategy) *Classifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	available := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		available[s.Name()] = true
	}
	return &Classifier{
		strategies: strategies,
		timeout:    timeout,
		logger:     logger,
		available:  available,
	}
}

// Classify returns a classification and the name of the strategy that
// produced it. It never fails: when every strategy is exhausted the
// threat-level fallback answers.
func (c *Classifier) Classify(ctx context.Context, alert model.ThreatAlert, corr model.CorrelationResult) (model.Classification, string) {
	for _, s := range c.strategies {
		if !c.isAvailable(s.Name()) {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := s.Classify(sctx, alert, corr)
		cancel()
		if err != nil {
			c.logger.Warn("classification strategy failed, removing for session",
				"strategy", s.Name(), "error", err)
			c.markUnavailable(s.Name())
			continue
		}
		c.logger.Info("classification complete",
			"strategy", s.Name(),
			"attack_classification", result.AttackClassification,
			"confidence", result.ConfidenceScore)
		return result, s.Name()
	}

	c.logger.Error("all classification strategies failed, using ultimate fallback",
		"agent_id", alert.AgentID)
	return ultimateFallback(alert), UltimateFallbackName
}

// AvailableStrategies lists the strategies still usable this session.
func (c *Classifier) AvailableStrategies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.strategies {
		if c.available[s.Name()] {
			out = append(out, s.Name())
		}
	}
	return out
}

func (c *Classifier) isAvailable(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available[name]
}

func (c *Classifier) markUnavailable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[name] = false
}

// ultimateFallback derives a conservative classification from the threat
// level alone. This path has no failure modes.
func ultimateFallback(alert model.ThreatAlert) model.Classification {
	var (
		attackClass string
		confidence  float64
		impact      string
		response    model.ResponseTier
	)
	switch alert.ThreatLevel {
	case model.ThreatCritical:
		attackClass = "CRITICAL_THREAT_UNCERTAIN_TYPE"
		confidence = 0.75
		impact = "HIGH - Immediate containment required pending detailed analysis"
		response = model.TierAggressive
	case model.ThreatHigh:
		attackClass = "HIGH_RISK_THREAT_UNCERTAIN_TYPE"
		confidence = 0.65
		impact = "MEDIUM - Investigation and containment needed"
		response = model.TierTargeted
	default:
		attackClass = "SUSPICIOUS_ACTIVITY_REQUIRES_ANALYSIS"
		confidence = 0.55
		impact = "LOW - Enhanced monitoring and analysis required"
		response = model.TierMonitoring
	}
	return model.Classification{
		AttackClassification:       attackClass,
		PropagationMethod:          "UNKNOWN_PENDING_ANALYSIS",
		EstimatedCompromiseRadius:  fmt.Sprintf("%s (assessment pending)", alert.AgentID),
		BusinessImpact:             impact,
		ConfidenceScore:            confidence,
		RecommendedNetworkResponse: response,
		PredictedNextTargets:       []string{},
		AnalysisText:               "FALLBACK_ANALYSIS: analysis services unavailable - using threat level assessment",
	}
}

// SimulationStrategy classifies by a fixed decision table over forensic
// flags, evaluated top to bottom with first match winning. It is always
// available and never errors, making it the guaranteed backstop before the
// ultimate fallback.
type SimulationStrategy struct{}

// Name implements Strategy.
func (SimulationStrategy) Name() string { return "local_simulation" }

// Classify implements Strategy.
func (SimulationStrategy) Classify(_ context.Context, alert model.ThreatAlert, corr model.CorrelationResult) (model.Classification, error) {
	patterns := alert.ForensicData.FileAccessPatterns
	metrics := alert.ForensicData.SystemMetrics

	var smb, rdp, suspicious, mining bool
	for _, conn := range alert.ForensicData.NetworkConnections {
		proto := strings.ToUpper(conn.Protocol)
		if strings.Contains(proto, "SMB") {
			smb = true
		}
		if strings.Contains(proto, "RDP") {
			rdp = true
		}
		if conn.Suspicious {
			suspicious = true
		}
		if strings.Contains(strings.ToLower(conn.RemoteHost), "mining") {
			mining = true
		}
	}

	var (
		attackClass string
		confidence  float64
		impact      string
		response    model.ResponseTier
	)
	switch {
	case patterns.EncryptionDetected && patterns.RansomNoteFound:
		attackClass = "FAST_ENCRYPTION_RANSOMWARE"
		confidence = 0.95
		impact = "CRITICAL - Active ransomware encryption with ransom demand"
		response = model.TierAggressive
	case patterns.EncryptionDetected && patterns.FilesModified > 50:
		attackClass = "DATA_DESTRUCTION_WARE"
		confidence = 0.88
		impact = "HIGH - Mass file encryption without ransom note"
		response = model.TierAggressive
	case smb && patterns.FilesModified > 10:
		attackClass = "LATERAL_MOVEMENT_RANSOMWARE"
		confidence = 0.85
		impact = "HIGH - Network propagation via SMB with file modifications"
		response = model.TierTargeted
	case metrics.CPUUsage > 90 && mining:
		attackClass = "CRYPTOMINER_MALWARE"
		confidence = 0.82
		impact = "MEDIUM - System resource theft for cryptocurrency mining"
		response = model.TierTargeted
	case rdp && suspicious:
		attackClass = "ADVANCED_PERSISTENT_THREAT"
		confidence = 0.78
		impact = "HIGH - Credential theft and lateral movement detected"
		response = model.TierTargeted
	case patterns.FilesModified > 5:
		attackClass = "DATA_EXFILTRATION_MALWARE"
		confidence = 0.70
		impact = "MEDIUM - Suspicious file access patterns"
		response = model.TierMonitoring
	default:
		attackClass = "SUSPICIOUS_ACTIVITY"
		confidence = 0.60
		impact = "LOW - Unusual activity requiring investigation"
		response = model.TierMonitoring
	}

	return model.Classification{
		AttackClassification:       attackClass,
		PropagationMethod:          propagationMethod(smb, rdp, suspicious),
		EstimatedCompromiseRadius:  compromiseRadius(alert, corr),
		BusinessImpact:             impact,
		ConfidenceScore:            confidence,
		RecommendedNetworkResponse: response,
		PredictedNextTargets:       predictNextTargets(alert),
		AnalysisText:               fmt.Sprintf("SIMULATED_ANALYSIS: %s - %s", attackClass, impact),
	}, nil
}

func propagationMethod(smb, rdp, suspicious bool) string {
	switch {
	case smb && rdp:
		return "MULTI_VECTOR_LATERAL_MOVEMENT"
	case smb:
		return "SMB_NETWORK_PROPAGATION"
	case rdp:
		return "RDP_CREDENTIAL_ATTACK"
	case suspicious:
		return "COVERT_CHANNEL_COMMUNICATION"
	default:
		return "LOCAL_SYSTEM_INFECTION"
	}
}

func compromiseRadius(alert model.ThreatAlert, corr model.CorrelationResult) string {
	agents := map[string]bool{alert.AgentID: true}
	for _, r := range corr.RelatedAlerts {
		if r.Alert.AgentID != "" {
			agents[r.Alert.AgentID] = true
		}
	}
	switch {
	case len(agents) > 3:
		return fmt.Sprintf("WIDESPREAD: %s + %d other systems", alert.AgentID, len(agents)-1)
	case len(agents) > 1:
		return fmt.Sprintf("LIMITED_SPREAD: %s + %d other systems", alert.AgentID, len(agents)-1)
	default:
		return fmt.Sprintf("CONTAINED: %s only", alert.AgentID)
	}
}

// defaultTargets are the high-value assets assumed reachable from any
// compromised host.
var defaultTargets = []string{
	"file-share-server",
	"backup-system-primary",
	"database-cluster-node",
	"email-server",
	"web-application-server",
}

func predictNextTargets(alert model.ThreatAlert) []string {
	var predicted []string
	seen := map[string]bool{}
	for _, conn := range alert.ForensicData.NetworkConnections {
		host := conn.RemoteHost
		if host == "" || host == "unknown" || seen[host] {
			continue
		}
		seen[host] = true
		predicted = append(predicted, host)
		if len(predicted) == 3 {
			break
		}
	}
	for _, t := range defaultTargets[:3] {
		if !seen[t] {
			seen[t] = true
			predicted = append(predicted, t)
		}
	}
	if len(predicted) > 5 {
		predicted = predicted[:5]
	}
	return predicted
}
