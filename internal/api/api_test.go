package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/agent"
	"github.com/quadshield/quadshield/internal/coordinate"
	"github.com/quadshield/quadshield/internal/detect"
	"github.com/quadshield/quadshield/internal/learn"
	"github.com/quadshield/quadshield/internal/metrics"
	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopSender struct{}

func (noopSender) SendAlert(context.Context, model.ThreatAlert) (model.IncidentResponse, error) {
	return model.IncidentResponse{}, nil
}

type noopDispatcher struct{}

func (noopDispatcher) DispatchCommands(context.Context, string, model.CommandMessage) error {
	return nil
}

func (noopDispatcher) BroadcastEmergency(context.Context, model.EmergencyMode) error {
	return nil
}

func newAgentAPI(t *testing.T) *AgentServer {
	t.Helper()
	logger := testLogger()
	pipeline, err := detect.NewPipeline(logger, detect.DefaultConfig())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	runtime := agent.NewRuntime("agent-1", pipeline, noopSender{},
		agent.LogExecutor{Logger: logger}, metrics.NewAgentMetrics(reg), logger)
	return NewAgentServer(logger, runtime, reg)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAgentHealth(t *testing.T) {
	rec := doRequest(t, newAgentAPI(t), "GET", "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "agent-1", body["agent_id"])
}

func TestAgentStatus(t *testing.T) {
	rec := doRequest(t, newAgentAPI(t), "GET", "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "agent-1", body["agent_id"])
	assert.Equal(t, "monitoring", body["status"])
	assert.Equal(t, false, body["emergency_active"])
}

func TestAgentSubmitEvent(t *testing.T) {
	server := newAgentAPI(t)

	rec := doRequest(t, server, "POST", "/v1/events", `{
		"kind": "file",
		"subject": "/home/user/notes.txt",
		"attributes": {"entropy": 3.1, "file_size": 2048}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict model.EnsembleVerdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.False(t, verdict.ThreatDetected)

	rec = doRequest(t, server, "GET", "/v1/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var analytics detect.Analytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analytics))
	assert.Equal(t, 1, analytics.TotalDetections)

	rec = doRequest(t, server, "POST", "/v1/events", `{"kind": "registry", "subject": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, "POST", "/v1/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentEvaluateRules(t *testing.T) {
	server := newAgentAPI(t)

	rec := doRequest(t, server, "POST", "/v1/rules/evaluate", `{
		"category": "system_manipulation",
		"features": {"shadow_copies_deleted": 1.0}
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var result model.LayerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.ThreatDetected)
	assert.Equal(t, []string{"SYS_MAN_003"}, result.MatchedRules)

	rec = doRequest(t, server, "POST", "/v1/rules/evaluate", `{"features": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentAddRule(t *testing.T) {
	server := newAgentAPI(t)

	rec := doRequest(t, server, "POST", "/v1/rules", `{
		"id": "CUSTOM_001",
		"name": "Honeypot Touch",
		"category": "file_encryption",
		"weight": 0.95,
		"condition": "path.contains(\"/honeypot/\")",
		"description": "Any access to the honeypot tree"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, server, "GET", "/v1/rules/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 5, stats["file_encryption"])

	// Unknown category is rejected.
	rec = doRequest(t, server, "POST", "/v1/rules", `{
		"id": "CUSTOM_002", "name": "Bad", "category": "nonsense",
		"weight": 0.5, "condition": "true"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentTrainAndModelVersions(t *testing.T) {
	server := newAgentAPI(t)

	rec := doRequest(t, server, "POST", "/v1/models/file_ransomware/train", `[
		{"features": {"entropy": 3.0}, "is_malicious": false},
		{"features": {"entropy": 7.9}, "is_malicious": true}
	]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var versions map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	assert.NotEqual(t, "default", versions["file_ransomware"])

	rec = doRequest(t, server, "POST", "/v1/models/bogus/train", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentMetricsEndpoint(t *testing.T) {
	rec := doRequest(t, newAgentAPI(t), "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func newCentralAPI(t *testing.T) (*CentralServer, *store.MemoryStore, *coordinate.Engine) {
	t.Helper()
	logger := testLogger()
	mem := store.NewMemoryStore(100, 100)
	engine := coordinate.NewEngine(noopDispatcher{}, logger)
	learner := learn.NewLearner(logger)
	server := NewCentralServer(logger, mem, engine, learner, prometheus.NewRegistry())
	return server, mem, engine
}

func TestCentralIncidentEndpoints(t *testing.T) {
	server, mem, _ := newCentralAPI(t)

	rec := model.IncidentRecord{
		IncidentID:     "INC-AAAA1111",
		Alert:          model.ThreatAlert{AgentID: "agent-1", ThreatLevel: model.ThreatCritical},
		RiskAssessment: model.RiskAssessment{RiskLevel: model.RiskCritical},
	}
	mem.SaveIncident(rec)
	mem.AppendStep(model.ProcessingStep{IncidentID: "INC-AAAA1111", Step: "ALERT_RECEIVED", Timestamp: time.Now()})

	resp := doRequest(t, server, "GET", "/v1/incidents", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Incidents []model.IncidentRecord `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Incidents, 1)

	resp = doRequest(t, server, "GET", "/v1/incidents/INC-AAAA1111", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doRequest(t, server, "GET", "/v1/incidents/INC-AAAA1111/steps", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var steps struct {
		Steps []model.ProcessingStep `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &steps))
	require.Len(t, steps.Steps, 1)
	assert.Equal(t, "ALERT_RECEIVED", steps.Steps[0].Step)

	resp = doRequest(t, server, "GET", "/v1/incidents/INC-MISSING0", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doRequest(t, server, "GET", "/v1/incidents?limit=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCentralEmergencyEndpoints(t *testing.T) {
	server, _, engine := newCentralAPI(t)

	_, err := engine.Coordinate(context.Background(), "INC-BBBB2222",
		model.ThreatAlert{AgentID: "agent-1", ThreatLevel: model.ThreatCritical, DetectionConfidence: 0.95},
		model.Classification{ConfidenceScore: 0.95, BusinessImpact: "HIGH",
			RecommendedNetworkResponse: model.TierAggressive},
		model.CorrelationResult{})
	require.NoError(t, err)

	resp := doRequest(t, server, "GET", "/v1/emergencies", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Emergencies []model.EmergencyMode `json:"emergencies"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Emergencies, 1)

	resp = doRequest(t, server, "DELETE", "/v1/emergencies/INC-BBBB2222", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doRequest(t, server, "DELETE", "/v1/emergencies/INC-BBBB2222", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCentralKnowledgeAndPerformance(t *testing.T) {
	server, _, _ := newCentralAPI(t)

	resp := doRequest(t, server, "GET", "/v1/knowledge", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var kb learn.KnowledgeBase
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &kb))
	assert.Contains(t, kb.ResponsePlaybooks, "ransomware")

	resp = doRequest(t, server, "GET", "/v1/performance", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doRequest(t, server, "GET", "/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
}
