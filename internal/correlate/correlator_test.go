package correlate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/model"
)

type staticSource struct {
	alerts []model.ThreatAlert
	err    error
}

func (s *staticSource) AlertsSince(_ context.Context, since time.Time) ([]model.ThreatAlert, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.ThreatAlert
	for _, a := range s.alerts {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTime = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func ransomAlert(agent, process string, ts time.Time) model.ThreatAlert {
	return model.ThreatAlert{
		AgentID:             agent,
		ThreatLevel:         model.ThreatCritical,
		MalwareProcess:      process,
		DetectionConfidence: 0.9,
		ForensicData: model.ForensicData{
			FileAccessPatterns: model.FileAccessPatterns{
				FilesModified:      47,
				EncryptionDetected: true,
				RansomNoteFound:    true,
			},
			NetworkConnections: []model.NetworkConnection{
				{RemoteHost: "192.168.1.55", Protocol: "SMB", Port: 445, Direction: "outbound", Suspicious: true},
			},
		},
		Timestamp: ts,
	}
}

func TestSimilarityIdenticalCampaign(t *testing.T) {
	a := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	b := ransomAlert("agent-2", "CRYPTOLOCKER.EXE", baseTime.Add(-10*time.Minute))

	// Process match 0.4 + full network overlap 0.3 + both file flags 0.3.
	assert.InDelta(t, 1.0, Similarity(a, b), 1e-9)
}

func TestSimilarityProcessNameOnly(t *testing.T) {
	a := model.ThreatAlert{AgentID: "agent-1", MalwareProcess: "locker.exe", Timestamp: baseTime}
	b := model.ThreatAlert{AgentID: "agent-2", MalwareProcess: "locker.exe", Timestamp: baseTime}

	assert.InDelta(t, 0.4, Similarity(a, b), 1e-9)
}

func TestSimilarityUnrelated(t *testing.T) {
	a := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	b := model.ThreatAlert{
		AgentID:        "agent-2",
		MalwareProcess: "miner.exe",
		ForensicData: model.ForensicData{
			NetworkConnections: []model.NetworkConnection{
				{RemoteHost: "10.9.9.9", Protocol: "HTTPS", Port: 443, Direction: "outbound"},
			},
		},
		Timestamp: baseTime,
	}

	assert.Less(t, Similarity(a, b), 0.3)
}

func TestCorrelateIsolatedIncident(t *testing.T) {
	c := New(&staticSource{}, testLogger())

	result, err := c.Correlate(context.Background(), ransomAlert("agent-1", "cryptolocker.exe", baseTime))
	require.NoError(t, err)

	assert.Empty(t, result.RelatedAlerts)
	assert.Equal(t, model.PatternIsolatedIncident, result.TemporalPattern.Pattern)
	assert.InDelta(t, 0.9, result.TemporalPattern.Confidence, 1e-9)
	assert.InDelta(t, 0.3, result.CorrelationConfidence, 1e-9)
	require.Len(t, result.AttackTimeline, 1)
	assert.Equal(t, "PRIMARY_DETECTION", result.AttackTimeline[0].EventType)
}

func TestCorrelateRapidBurst(t *testing.T) {
	primary := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	source := &staticSource{alerts: []model.ThreatAlert{
		ransomAlert("agent-2", "cryptolocker.exe", baseTime.Add(-2*time.Minute)),
		ransomAlert("agent-3", "cryptolocker.exe", baseTime.Add(-4*time.Minute)),
	}}
	c := New(source, testLogger())

	result, err := c.Correlate(context.Background(), primary)
	require.NoError(t, err)

	require.Len(t, result.RelatedAlerts, 2)
	assert.Equal(t, model.PatternRapidBurst, result.TemporalPattern.Pattern)
	assert.InDelta(t, 0.85, result.TemporalPattern.Confidence, 1e-9)

	// min(0.7, 2*0.1) + 0.3*1.0 with perfectly similar alerts.
	assert.InDelta(t, 0.5, result.CorrelationConfidence, 1e-9)

	require.Len(t, result.AttackTimeline, 3)
	assert.Equal(t, model.RelDirectlyRelated, result.AttackTimeline[0].Relationship)
	assert.True(t, result.AttackTimeline[0].Timestamp.Before(result.AttackTimeline[1].Timestamp))
}

func TestCorrelateSkipsStaleAlerts(t *testing.T) {
	primary := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	source := &staticSource{alerts: []model.ThreatAlert{
		ransomAlert("agent-2", "cryptolocker.exe", baseTime.Add(-3*time.Hour)),
	}}
	c := New(source, testLogger())

	result, err := c.Correlate(context.Background(), primary)
	require.NoError(t, err)
	assert.Empty(t, result.RelatedAlerts)
}

func TestCorrelateSkipsSameIncident(t *testing.T) {
	primary := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	primary.IncidentID = "INC-AAAA1111"
	twin := ransomAlert("agent-2", "cryptolocker.exe", baseTime.Add(-5*time.Minute))
	twin.IncidentID = "INC-AAAA1111"

	c := New(&staticSource{alerts: []model.ThreatAlert{twin}}, testLogger())
	result, err := c.Correlate(context.Background(), primary)
	require.NoError(t, err)
	assert.Empty(t, result.RelatedAlerts)
}

func TestPropagationGraph(t *testing.T) {
	primary := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	primary.ForensicData.NetworkConnections = append(primary.ForensicData.NetworkConnections,
		model.NetworkConnection{RemoteHost: "192.168.1.60", Protocol: "RDP", Port: 3389, Direction: "inbound"})
	related := ransomAlert("agent-2", "cryptolocker.exe", baseTime.Add(-10*time.Minute))

	c := New(&staticSource{alerts: []model.ThreatAlert{related}}, testLogger())
	result, err := c.Correlate(context.Background(), primary)
	require.NoError(t, err)

	graph := result.PropagationGraph
	assert.Equal(t, "agent-1", graph.PatientZero)
	assert.Equal(t, []string{"agent-1"}, graph.InfectedNodes)
	assert.ElementsMatch(t, []string{"192.168.1.55", "agent-2"}, graph.ExposedNodes)
	require.Len(t, graph.PropagationPaths, 1)
	assert.Equal(t, "192.168.1.55", graph.PropagationPaths[0].Target)
	assert.Equal(t, VectorFileEncryption, graph.AttackVector)
}

func TestAttackVectorPriority(t *testing.T) {
	smbOnly := model.ThreatAlert{ForensicData: model.ForensicData{
		NetworkConnections: []model.NetworkConnection{{Protocol: "smb", Port: 445}},
	}}
	rdpOnly := model.ThreatAlert{ForensicData: model.ForensicData{
		NetworkConnections: []model.NetworkConnection{{Protocol: "RDP", Port: 3389}},
	}}

	assert.Equal(t, VectorNetworkSharing, identifyAttackVector(smbOnly))
	assert.Equal(t, VectorRemoteAccess, identifyAttackVector(rdpOnly))
	assert.Equal(t, VectorUnknown, identifyAttackVector(model.ThreatAlert{}))
}

func TestCrossAgentIndicators(t *testing.T) {
	primary := ransomAlert("agent-1", "cryptolocker.exe", baseTime)
	related := ransomAlert("agent-2", "cryptolocker.exe", baseTime.Add(-10*time.Minute))

	c := New(&staticSource{alerts: []model.ThreatAlert{related}}, testLogger())
	result, err := c.Correlate(context.Background(), primary)
	require.NoError(t, err)

	var processIndicators, connIndicators int
	for _, ind := range result.CrossAgentIndicators {
		switch ind.Type {
		case "MALWARE_PROCESS":
			processIndicators++
			assert.Equal(t, "cryptolocker.exe", ind.Value)
			assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, ind.Sources)
		case "SUSPICIOUS_CONNECTION":
			connIndicators++
			assert.Equal(t, "SMB://192.168.1.55:445", ind.Value)
		}
	}
	assert.Equal(t, 1, processIndicators)
	assert.Equal(t, 2, connIndicators)
}

func TestCorrelateSourceError(t *testing.T) {
	c := New(&staticSource{err: errors.New("db down")}, testLogger())

	_, err := c.Correlate(context.Background(), ransomAlert("agent-1", "x.exe", baseTime))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
