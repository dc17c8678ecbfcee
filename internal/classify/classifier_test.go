package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingStrategy struct {
	name  string
	calls int
}

func (f *failingStrategy) Name() string { return f.name }

func (f *failingStrategy) Classify(context.Context, model.ThreatAlert, model.CorrelationResult) (model.Classification, error) {
	f.calls++
	return model.Classification{}, errors.New("backend unavailable")
}

func encryptionAlert() model.ThreatAlert {
	return model.ThreatAlert{
		AgentID:        "agent-1",
		ThreatLevel:    model.ThreatCritical,
		MalwareProcess: "cryptolocker.exe",
		ForensicData: model.ForensicData{
			FileAccessPatterns: model.FileAccessPatterns{
				FilesModified:      47,
				EncryptionDetected: true,
				RansomNoteFound:    true,
			},
			NetworkConnections: []model.NetworkConnection{
				{RemoteHost: "192.168.1.55", Protocol: "SMB", Port: 445, Direction: "outbound", Suspicious: true},
			},
			SystemMetrics: model.SystemMetrics{CPUUsage: 85},
		},
		Timestamp: time.Now(),
	}
}

func TestSimulationDecisionTable(t *testing.T) {
	smbConns := []model.NetworkConnection{{RemoteHost: "10.0.0.5", Protocol: "SMB", Port: 445}}
	rdpConns := []model.NetworkConnection{
		{RemoteHost: "10.0.0.6", Protocol: "RDP", Port: 3389},
		{RemoteHost: "185.0.0.1", Protocol: "TCP", Port: 8443, Suspicious: true},
	}
	miningConns := []model.NetworkConnection{{RemoteHost: "pool.mining-hub.example", Protocol: "TCP", Port: 3333}}

	cases := []struct {
		name       string
		alert      model.ThreatAlert
		class      string
		confidence float64
		tier       model.ResponseTier
	}{
		{
			"fast encryption ransomware",
			encryptionAlert(),
			"FAST_ENCRYPTION_RANSOMWARE", 0.95, model.TierAggressive,
		},
		{
			"data destruction ware",
			model.ThreatAlert{ForensicData: model.ForensicData{
				FileAccessPatterns: model.FileAccessPatterns{EncryptionDetected: true, FilesModified: 60},
			}},
			"DATA_DESTRUCTION_WARE", 0.88, model.TierAggressive,
		},
		{
			"lateral movement",
			model.ThreatAlert{ForensicData: model.ForensicData{
				FileAccessPatterns: model.FileAccessPatterns{FilesModified: 15},
				NetworkConnections: smbConns,
			}},
			"LATERAL_MOVEMENT_RANSOMWARE", 0.85, model.TierTargeted,
		},
		{
			"cryptominer",
			model.ThreatAlert{ForensicData: model.ForensicData{
				NetworkConnections: miningConns,
				SystemMetrics:      model.SystemMetrics{CPUUsage: 97},
			}},
			"CRYPTOMINER_MALWARE", 0.82, model.TierTargeted,
		},
		{
			"apt",
			model.ThreatAlert{ForensicData: model.ForensicData{
				NetworkConnections: rdpConns,
			}},
			"ADVANCED_PERSISTENT_THREAT", 0.78, model.TierTargeted,
		},
		{
			"exfiltration",
			model.ThreatAlert{ForensicData: model.ForensicData{
				FileAccessPatterns: model.FileAccessPatterns{FilesModified: 7},
			}},
			"DATA_EXFILTRATION_MALWARE", 0.70, model.TierMonitoring,
		},
		{
			"suspicious activity",
			model.ThreatAlert{},
			"SUSPICIOUS_ACTIVITY", 0.60, model.TierMonitoring,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := SimulationStrategy{}.Classify(context.Background(), tc.alert, model.CorrelationResult{})
			require.NoError(t, err)
			assert.Equal(t, tc.class, result.AttackClassification)
			assert.InDelta(t, tc.confidence, result.ConfidenceScore, 1e-9)
			assert.Equal(t, tc.tier, result.RecommendedNetworkResponse)
		})
	}
}

func TestSimulationPropagationMethod(t *testing.T) {
	assert.Equal(t, "MULTI_VECTOR_LATERAL_MOVEMENT", propagationMethod(true, true, false))
	assert.Equal(t, "SMB_NETWORK_PROPAGATION", propagationMethod(true, false, false))
	assert.Equal(t, "RDP_CREDENTIAL_ATTACK", propagationMethod(false, true, false))
	assert.Equal(t, "COVERT_CHANNEL_COMMUNICATION", propagationMethod(false, false, true))
	assert.Equal(t, "LOCAL_SYSTEM_INFECTION", propagationMethod(false, false, false))
}

func TestSimulationCompromiseRadius(t *testing.T) {
	alert := encryptionAlert()

	related := func(n int) model.CorrelationResult {
		var corr model.CorrelationResult
		for i := 0; i < n; i++ {
			corr.RelatedAlerts = append(corr.RelatedAlerts, model.RelatedAlert{
				Alert: model.ThreatAlert{AgentID: string(rune('b' + i))},
			})
		}
		return corr
	}

	assert.Equal(t, "CONTAINED: agent-1 only", compromiseRadius(alert, model.CorrelationResult{}))
	assert.Equal(t, "LIMITED_SPREAD: agent-1 + 2 other systems", compromiseRadius(alert, related(2)))
	assert.Equal(t, "WIDESPREAD: agent-1 + 4 other systems", compromiseRadius(alert, related(4)))
}

func TestSimulationPredictsTargets(t *testing.T) {
	result, err := SimulationStrategy{}.Classify(context.Background(), encryptionAlert(), model.CorrelationResult{})
	require.NoError(t, err)

	assert.Contains(t, result.PredictedNextTargets, "192.168.1.55")
	assert.Contains(t, result.PredictedNextTargets, "file-share-server")
	assert.LessOrEqual(t, len(result.PredictedNextTargets), 5)
}

func TestClassifierFailedStrategyRemovedForSession(t *testing.T) {
	failing := &failingStrategy{name: "remote_llm"}
	c := New(testLogger(), time.Second, failing, SimulationStrategy{})

	result, strategy := c.Classify(context.Background(), encryptionAlert(), model.CorrelationResult{})
	assert.Equal(t, "local_simulation", strategy)
	assert.Equal(t, "FAST_ENCRYPTION_RANSOMWARE", result.AttackClassification)
	assert.Equal(t, 1, failing.calls)

	// The failed strategy is not retried on the next alert.
	_, strategy = c.Classify(context.Background(), encryptionAlert(), model.CorrelationResult{})
	assert.Equal(t, "local_simulation", strategy)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, []string{"local_simulation"}, c.AvailableStrategies())
}

func TestClassifierUltimateFallback(t *testing.T) {
	c := New(testLogger(), time.Second, &failingStrategy{name: "remote_llm"})

	cases := []struct {
		level model.ThreatLevel
		class string
		tier  model.ResponseTier
		conf  float64
	}{
		{model.ThreatCritical, "CRITICAL_THREAT_UNCERTAIN_TYPE", model.TierAggressive, 0.75},
		{model.ThreatHigh, "HIGH_RISK_THREAT_UNCERTAIN_TYPE", model.TierTargeted, 0.65},
		{model.ThreatSuspicious, "SUSPICIOUS_ACTIVITY_REQUIRES_ANALYSIS", model.TierMonitoring, 0.55},
	}
	for _, tc := range cases {
		result, strategy := c.Classify(context.Background(),
			model.ThreatAlert{AgentID: "agent-1", ThreatLevel: tc.level}, model.CorrelationResult{})
		assert.Equal(t, UltimateFallbackName, strategy)
		assert.Equal(t, tc.class, result.AttackClassification)
		assert.Equal(t, tc.tier, result.RecommendedNetworkResponse)
		assert.InDelta(t, tc.conf, result.ConfidenceScore, 1e-9)
		assert.Empty(t, result.PredictedNextTargets)
	}
}

func TestRemoteStrategy(t *testing.T) {
	valid := model.Classification{
		AttackClassification:       "FAST_ENCRYPTION_RANSOMWARE",
		PropagationMethod:          "SMB_NETWORK_PROPAGATION",
		EstimatedCompromiseRadius:  "CONTAINED: agent-1 only",
		BusinessImpact:             "CRITICAL - encryption in progress",
		ConfidenceScore:            0.9,
		RecommendedNetworkResponse: model.TierAggressive,
	}

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/analyze", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			assert.NoError(t, json.NewEncoder(w).Encode(valid))
		}))
		defer srv.Close()

		s := NewRemoteStrategy("remote_llm", srv.URL)
		result, err := s.Classify(context.Background(), encryptionAlert(), model.CorrelationResult{})
		require.NoError(t, err)
		assert.Equal(t, valid.AttackClassification, result.AttackClassification)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		s := NewRemoteStrategy("remote_llm", srv.URL)
		_, err := s.Classify(context.Background(), encryptionAlert(), model.CorrelationResult{})
		assert.Error(t, err)
	})

	t.Run("malformed response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"attack_classification": ""}`))
		}))
		defer srv.Close()

		s := NewRemoteStrategy("remote_llm", srv.URL)
		_, err := s.Classify(context.Background(), encryptionAlert(), model.CorrelationResult{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed")
	})
}
