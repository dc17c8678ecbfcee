package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"

	"github.com/quadshield/quadshield/internal/coordinate"
	"github.com/quadshield/quadshield/internal/learn"
	"github.com/quadshield/quadshield/internal/store"
)

const defaultIncidentLimit = 20

// CentralServer provides the HTTP API of the central system.
type CentralServer struct {
	logger  *slog.Logger
	store   *store.MemoryStore
	engine  *coordinate.Engine
	learner *learn.Learner
	router  *mux.Router
}

// NewCentralServer creates the central API over the incident store, the
// coordination engine and the learner.
func NewCentralServer(logger *slog.Logger, st *store.MemoryStore, engine *coordinate.Engine,
	learner *learn.Learner, gatherer prometheus.Gatherer) *CentralServer {
	server := &CentralServer{
		logger:  logger,
		store:   st,
		engine:  engine,
		learner: learner,
		router:  mux.NewRouter(),
	}
	server.setupRoutes(gatherer)
	return server
}

func (s *CentralServer) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/v1/incidents", s.handleListIncidents).Methods("GET")
	s.router.HandleFunc("/v1/incidents/{id}", s.handleGetIncident).Methods("GET")
	s.router.HandleFunc("/v1/incidents/{id}/steps", s.handleGetSteps).Methods("GET")
	s.router.HandleFunc("/v1/emergencies", s.handleEmergencies).Methods("GET")
	s.router.HandleFunc("/v1/emergencies/{id}", s.handleDeactivateEmergency).Methods("DELETE")
	s.router.HandleFunc("/v1/knowledge", s.handleKnowledge).Methods("GET")
	s.router.HandleFunc("/v1/performance", s.handlePerformance).Methods("GET")
	s.router.HandleFunc("/v1/stats", s.handleStats).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// ServeHTTP implements http.Handler.
func (s *CentralServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *CentralServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "quadshield-central",
		"timestamp": time.Now().UTC(),
	})
}

func (s *CentralServer) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := defaultIncidentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": s.store.RecentIncidents(limit),
	})
}

func (s *CentralServer) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.store.Incident(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *CentralServer) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.store.Incident(id); !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": id,
		"steps":       s.store.Steps(id),
	})
}

func (s *CentralServer) handleEmergencies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"emergencies": s.engine.ActiveEmergencies(),
	})
}

func (s *CentralServer) handleDeactivateEmergency(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.engine.DeactivateEmergency(id) {
		writeError(w, http.StatusNotFound, "no active emergency for incident")
		return
	}
	s.logger.Info("emergency deactivated via API", "incident_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"incident_id": id, "deactivated": true})
}

func (s *CentralServer) handleKnowledge(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.learner.Knowledge())
}

func (s *CentralServer) handlePerformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.learner.Metrics())
}

func (s *CentralServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}
