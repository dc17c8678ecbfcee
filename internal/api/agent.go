// Package api exposes the HTTP management surfaces of the agent and the
// central system.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"

	"github.com/quadshield/quadshield/internal/agent"
	"github.com/quadshield/quadshield/internal/detect"
	"github.com/quadshield/quadshield/internal/model"
)

// AgentServer provides the HTTP API of one endpoint agent.
type AgentServer struct {
	logger  *slog.Logger
	runtime *agent.Runtime
	router  *mux.Router
}

// NewAgentServer creates the agent API over a runtime and its metrics
// registry.
func NewAgentServer(logger *slog.Logger, runtime *agent.Runtime, gatherer prometheus.Gatherer) *AgentServer {
	server := &AgentServer{
		logger:  logger,
		runtime: runtime,
		router:  mux.NewRouter(),
	}
	server.setupRoutes(gatherer)
	return server
}

func (s *AgentServer) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/v1/analytics", s.handleAnalytics).Methods("GET")
	s.router.HandleFunc("/v1/events", s.handleEvent).Methods("POST")
	s.router.HandleFunc("/v1/rules", s.handleAddRule).Methods("POST")
	s.router.HandleFunc("/v1/rules/stats", s.handleRuleStats).Methods("GET")
	s.router.HandleFunc("/v1/rules/evaluate", s.handleEvaluateRules).Methods("POST")
	s.router.HandleFunc("/v1/models", s.handleModelVersions).Methods("GET")
	s.router.HandleFunc("/v1/models/{name}/train", s.handleTrain).Methods("POST")
	s.router.HandleFunc("/v1/emergency", s.handleEmergency).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// ServeHTTP implements http.Handler.
func (s *AgentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AgentServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "quadshield-agent",
		"agent_id":  s.runtime.AgentID(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *AgentServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	analytics := s.runtime.Analytics()
	emergency := s.runtime.ActiveEmergency()
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":         s.runtime.AgentID(),
		"status":           "monitoring",
		"events_analyzed":  analytics.TotalDetections,
		"threat_breakdown": analytics.ThreatLevelBreakdown,
		"actions_taken":    s.runtime.ActionsTaken(),
		"emergency_active": emergency != nil,
		"emergency":        emergency,
		"timestamp":        time.Now().UTC(),
	})
}

func (s *AgentServer) handleAnalytics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Analytics())
}

// handleEvent is the HTTP ingress for monitor events, used by local
// collectors that speak HTTP instead of NATS.
func (s *AgentServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	switch ev.Kind {
	case model.EventFile, model.EventProcess, model.EventNetwork:
	default:
		writeError(w, http.StatusBadRequest, "kind must be file, process or network")
		return
	}
	record := s.runtime.HandleEvent(r.Context(), ev)
	writeJSON(w, http.StatusOK, record.Verdict)
}

func (s *AgentServer) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule detect.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.runtime.Pipeline().AddRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("detection rule added", "rule_id", rule.ID, "category", rule.Category)
	writeJSON(w, http.StatusCreated, map[string]any{"rule_id": rule.ID})
}

func (s *AgentServer) handleRuleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Pipeline().RuleStats())
}

type evaluateRequest struct {
	Category string             `json:"category"`
	Event    map[string]any     `json:"event"`
	Path     string             `json:"path"`
	Features map[string]float64 `json:"features"`
}

func (s *AgentServer) handleEvaluateRules(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "missing required field: category")
		return
	}
	result := s.runtime.Pipeline().EvaluateRules(req.Category, detect.EvalContext{
		Event:    req.Event,
		Path:     req.Path,
		Base:     pathBase(req.Path),
		Features: req.Features,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *AgentServer) handleModelVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Pipeline().ModelVersions())
}

func (s *AgentServer) handleTrain(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var examples []detect.TrainingExample
	if err := json.NewDecoder(r.Body).Decode(&examples); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.runtime.Pipeline().Train(name, examples); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("model trained", "model", name, "examples", len(examples))
	writeJSON(w, http.StatusOK, s.runtime.Pipeline().ModelVersions())
}

func (s *AgentServer) handleEmergency(w http.ResponseWriter, _ *http.Request) {
	mode := s.runtime.ActiveEmergency()
	if mode == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "mode": mode})
}

func pathBase(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
