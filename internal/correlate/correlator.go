// Package correlate builds the forensic picture around one alert: related
// alerts, the attack timeline, the propagation graph, temporal cadence and
// cross-agent indicators of compromise.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quadshield/quadshield/internal/model"
)

const (
	lookbackWindow      = 24 * time.Hour
	correlationWindow   = 120 * time.Minute
	relevanceThreshold  = 0.3
	isolatedConfidence  = 0.3
	processWeight       = 0.4
	networkWeight       = 0.3
	fileWeight          = 0.3
)

// suspiciousPorts are lateral-movement and remote-access ports flagged as
// cross-agent indicators when used outbound.
var suspiciousPorts = map[int]bool{445: true, 3389: true, 22: true, 23: true}

// AlertSource provides the stored alerts the correlator works over.
type AlertSource interface {
	AlertsSince(ctx context.Context, since time.Time) ([]model.ThreatAlert, error)
}

// Correlator computes CorrelationResults from the alert store. It holds no
// state of its own; every result is derived fresh from the store.
type Correlator struct {
	source AlertSource
	logger *slog.Logger
}

// New returns a correlator over the given alert source.
func New(source AlertSource, logger *slog.Logger) *Correlator {
	return &Correlator{source: source, logger: logger}
}

// Correlate relates the alert to everything seen in the trailing 24 hours
// and within 120 minutes of its timestamp.
func (c *Correlator) Correlate(ctx context.Context, alert model.ThreatAlert) (model.CorrelationResult, error) {
	c.logger.Info("starting forensic correlation", "agent_id", alert.AgentID)

	recent, err := c.source.AlertsSince(ctx, alert.Timestamp.Add(-lookbackWindow))
	if err != nil {
		return model.CorrelationResult{}, fmt.Errorf("fetch recent alerts: %w", err)
	}

	related := findRelevant(alert, recent)

	return model.CorrelationResult{
		RelatedAlerts:         related,
		AttackTimeline:        buildTimeline(alert, related),
		PropagationGraph:      buildPropagationGraph(alert, related),
		TemporalPattern:       analyzeTemporalPattern(alert, related),
		CorrelationConfidence: correlationConfidence(related),
		CrossAgentIndicators:  extractIndicators(alert, related),
	}, nil
}

func findRelevant(alert model.ThreatAlert, candidates []model.ThreatAlert) []model.RelatedAlert {
	var related []model.RelatedAlert
	for _, cand := range candidates {
		if cand.IncidentID != "" && cand.IncidentID == alert.IncidentID {
			continue
		}
		if alert.Timestamp.Sub(cand.Timestamp) > correlationWindow {
			continue
		}
		sim := Similarity(alert, cand)
		if sim > relevanceThreshold {
			related = append(related, model.RelatedAlert{Alert: cand, Similarity: sim})
		}
	}
	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Similarity > related[j].Similarity
	})
	return related
}

// Similarity scores how alike two alerts are: 0.4 for an identical malware
// process name, 0.3 weighted network overlap, 0.3 weighted file pattern
// overlap, capped at 1.0.
func Similarity(a, b model.ThreatAlert) float64 {
	var score float64

	if a.MalwareProcess != "" && b.MalwareProcess != "" &&
		strings.EqualFold(a.MalwareProcess, b.MalwareProcess) {
		score += processWeight
	}
	score += networkWeight * networkSimilarity(
		a.ForensicData.NetworkConnections, b.ForensicData.NetworkConnections)
	score += fileWeight * filePatternSimilarity(
		a.ForensicData.FileAccessPatterns, b.ForensicData.FileAccessPatterns)

	if score > 1 {
		score = 1
	}
	return score
}

func networkSimilarity(conns1, conns2 []model.NetworkConnection) float64 {
	if len(conns1) == 0 || len(conns2) == 0 {
		return 0
	}
	hosts1, protos1 := connectionSets(conns1)
	hosts2, protos2 := connectionSets(conns2)
	return (setOverlap(hosts1, hosts2) + setOverlap(protos1, protos2)) / 2
}

func connectionSets(conns []model.NetworkConnection) (hosts, protocols map[string]bool) {
	hosts = map[string]bool{}
	protocols = map[string]bool{}
	for _, c := range conns {
		hosts[c.RemoteHost] = true
		protocols[c.Protocol] = true
	}
	return hosts, protocols
}

func setOverlap(s1, s2 map[string]bool) float64 {
	if len(s1) == 0 && len(s2) == 0 {
		return 0
	}
	common := 0
	for k := range s1 {
		if s2[k] {
			common++
		}
	}
	return float64(common) / float64(max(len(s1), len(s2)))
}

func filePatternSimilarity(p1, p2 model.FileAccessPatterns) float64 {
	var sim float64
	if p1.EncryptionDetected && p2.EncryptionDetected {
		sim += 0.5
	}
	if p1.RansomNoteFound && p2.RansomNoteFound {
		sim += 0.5
	}
	if len(p1.ExtensionsChanged) > 0 && len(p2.ExtensionsChanged) > 0 {
		sim += 0.5 * setOverlap(stringSet(p1.ExtensionsChanged), stringSet(p2.ExtensionsChanged))
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}

func stringSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

func buildTimeline(alert model.ThreatAlert, related []model.RelatedAlert) []model.TimelineEvent {
	timeline := []model.TimelineEvent{{
		Timestamp: alert.Timestamp,
		Agent:     alert.AgentID,
		EventType: "PRIMARY_DETECTION",
		Severity:  alert.ThreatLevel,
		Description: fmt.Sprintf("Malware '%s' detected with %.2f confidence",
			alert.MalwareProcess, alert.DetectionConfidence),
	}}
	for _, r := range related {
		timeline = append(timeline, model.TimelineEvent{
			Timestamp:    r.Alert.Timestamp,
			Agent:        r.Alert.AgentID,
			EventType:    "RELATED_ACTIVITY",
			Severity:     r.Alert.ThreatLevel,
			Description:  fmt.Sprintf("Suspicious activity: %s", r.Alert.MalwareProcess),
			Similarity:   r.Similarity,
			Relationship: relationship(r.Similarity),
		})
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})
	return timeline
}

func relationship(similarity float64) string {
	switch {
	case similarity > 0.7:
		return model.RelDirectlyRelated
	case similarity > 0.4:
		return model.RelLikelyRelated
	default:
		return model.RelPossiblyRelated
	}
}

func buildPropagationGraph(alert model.ThreatAlert, related []model.RelatedAlert) model.PropagationGraph {
	graph := model.PropagationGraph{
		PatientZero:   alert.AgentID,
		InfectedNodes: []string{alert.AgentID},
		AttackVector:  identifyAttackVector(alert),
	}

	seen := map[string]bool{}
	for _, conn := range alert.ForensicData.NetworkConnections {
		if conn.Direction != "outbound" {
			continue
		}
		graph.PropagationPaths = append(graph.PropagationPaths, model.PropagationPath{
			Source:    alert.AgentID,
			Target:    conn.RemoteHost,
			Protocol:  conn.Protocol,
			Port:      conn.Port,
			Timestamp: alert.Timestamp,
		})
		if !seen[conn.RemoteHost] {
			seen[conn.RemoteHost] = true
			graph.ExposedNodes = append(graph.ExposedNodes, conn.RemoteHost)
		}
	}
	for _, r := range related {
		id := r.Alert.AgentID
		if id != alert.AgentID && !seen[id] {
			seen[id] = true
			graph.ExposedNodes = append(graph.ExposedNodes, id)
		}
	}
	return graph
}

// Attack vector names, in priority order of identification.
const (
	VectorFileEncryption = "FILE_ENCRYPTION"
	VectorNetworkSharing = "NETWORK_SHARING"
	VectorRemoteAccess   = "REMOTE_ACCESS"
	VectorUnknown        = "UNKNOWN_VECTOR"
)

func identifyAttackVector(alert model.ThreatAlert) string {
	if alert.ForensicData.FileAccessPatterns.EncryptionDetected {
		return VectorFileEncryption
	}
	for _, conn := range alert.ForensicData.NetworkConnections {
		if strings.Contains(strings.ToUpper(conn.Protocol), "SMB") {
			return VectorNetworkSharing
		}
	}
	for _, conn := range alert.ForensicData.NetworkConnections {
		if strings.Contains(strings.ToUpper(conn.Protocol), "RDP") {
			return VectorRemoteAccess
		}
	}
	return VectorUnknown
}

func analyzeTemporalPattern(alert model.ThreatAlert, related []model.RelatedAlert) model.TemporalPattern {
	if len(related) == 0 {
		return model.TemporalPattern{Pattern: model.PatternIsolatedIncident, Confidence: 0.9}
	}

	timestamps := []time.Time{alert.Timestamp}
	for _, r := range related {
		timestamps = append(timestamps, r.Alert.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	var totalGap float64
	for i := 1; i < len(timestamps); i++ {
		totalGap += timestamps[i].Sub(timestamps[i-1]).Minutes()
	}
	avgGap := totalGap / float64(len(timestamps)-1)

	pattern := model.PatternLowFrequency
	confidence := 0.6
	switch {
	case avgGap < 5:
		pattern, confidence = model.PatternRapidBurst, 0.85
	case avgGap < 30:
		pattern, confidence = model.PatternCoordinated, 0.75
	}

	return model.TemporalPattern{
		Pattern:       pattern,
		Confidence:    confidence,
		AvgGapMinutes: avgGap,
		SpanMinutes:   timestamps[len(timestamps)-1].Sub(timestamps[0]).Minutes(),
	}
}

func correlationConfidence(related []model.RelatedAlert) float64 {
	if len(related) == 0 {
		return isolatedConfidence
	}
	base := 0.1 * float64(len(related))
	if base > 0.7 {
		base = 0.7
	}
	var totalSim float64
	for _, r := range related {
		totalSim += r.Similarity
	}
	conf := base + 0.3*(totalSim/float64(len(related)))
	if conf > 1 {
		conf = 1
	}
	return conf
}

func extractIndicators(alert model.ThreatAlert, related []model.RelatedAlert) []model.Indicator {
	var indicators []model.Indicator

	seenProcs := map[string]bool{}
	processes := []string{}
	if alert.MalwareProcess != "" {
		seenProcs[alert.MalwareProcess] = true
		processes = append(processes, alert.MalwareProcess)
	}
	for _, r := range related {
		p := r.Alert.MalwareProcess
		if p != "" && !seenProcs[p] {
			seenProcs[p] = true
			processes = append(processes, p)
		}
	}
	for _, proc := range processes {
		sources := []string{alert.AgentID}
		for _, r := range related {
			if r.Alert.MalwareProcess == proc {
				sources = append(sources, r.Alert.AgentID)
			}
		}
		indicators = append(indicators, model.Indicator{
			Type:       "MALWARE_PROCESS",
			Value:      proc,
			Confidence: 0.8,
			Sources:    sources,
		})
	}

	conns := append([]model.NetworkConnection{}, alert.ForensicData.NetworkConnections...)
	for _, r := range related {
		conns = append(conns, r.Alert.ForensicData.NetworkConnections...)
	}
	for _, conn := range conns {
		if suspiciousPorts[conn.Port] && conn.Direction == "outbound" {
			indicators = append(indicators, model.Indicator{
				Type:       "SUSPICIOUS_CONNECTION",
				Value:      fmt.Sprintf("%s://%s:%d", conn.Protocol, conn.RemoteHost, conn.Port),
				Confidence: 0.7,
				Sources:    []string{alert.AgentID},
			})
		}
	}
	return indicators
}
