package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quadshield/quadshield/internal/api"
	"github.com/quadshield/quadshield/internal/central"
	"github.com/quadshield/quadshield/internal/classify"
	"github.com/quadshield/quadshield/internal/config"
	"github.com/quadshield/quadshield/internal/coordinate"
	"github.com/quadshield/quadshield/internal/correlate"
	"github.com/quadshield/quadshield/internal/learn"
	"github.com/quadshield/quadshield/internal/metrics"
	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/store"
	"github.com/quadshield/quadshield/internal/transport"
)

// AppConfig represents the central configuration from environment
// variables.
type AppConfig struct {
	HTTPAddr        string
	NATSURL         string
	MaxAlerts       int
	MaxIncidents    int
	AnalysisURL     string
	ClassifyTimeout time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
}

func loadConfig() *AppConfig {
	return &AppConfig{
		HTTPAddr:        config.GetEnv("CENTRAL_HTTP_ADDR", ":8080"),
		NATSURL:         config.GetEnv("CENTRAL_NATS_URL", "nats://localhost:4222"),
		MaxAlerts:       config.GetEnvInt("CENTRAL_MAX_ALERTS", 10000),
		MaxIncidents:    config.GetEnvInt("CENTRAL_MAX_INCIDENTS", 1000),
		AnalysisURL:     config.GetEnv("CENTRAL_ANALYSIS_URL", ""),
		ClassifyTimeout: config.GetEnvDuration("CENTRAL_CLASSIFY_TIMEOUT", 10*time.Second),
		DBHost:          config.GetEnv("CENTRAL_DB_HOST", ""),
		DBPort:          config.GetEnv("CENTRAL_DB_PORT", "5432"),
		DBUser:          config.GetEnv("CENTRAL_DB_USER", "quadshield"),
		DBPassword:      config.GetEnv("CENTRAL_DB_PASSWORD", "quadshield"),
		DBName:          config.GetEnv("CENTRAL_DB_NAME", "quadshield"),
	}
}

// durableStore mirrors alert and incident writes into PostgreSQL while the
// in-memory store keeps serving the pipeline and the API.
type durableStore struct {
	*store.MemoryStore
	pg     *store.PostgresStore
	logger *slog.Logger
}

func (s *durableStore) AddAlert(alert model.ThreatAlert) bool {
	fresh := s.MemoryStore.AddAlert(alert)
	if fresh {
		if err := s.pg.SaveAlert(context.Background(), alert); err != nil {
			s.logger.Error("failed to persist alert", "error", err)
		}
	}
	return fresh
}

func (s *durableStore) SaveIncident(rec model.IncidentRecord) {
	s.MemoryStore.SaveIncident(rec)
	if err := s.pg.SaveIncident(context.Background(), rec); err != nil {
		s.logger.Error("failed to persist incident", "incident_id", rec.IncidentID, "error", err)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	appConfig := loadConfig()
	logger.Info("starting quadshield central",
		"http_addr", appConfig.HTTPAddr,
		"nats_url", appConfig.NATSURL,
		"max_alerts", appConfig.MaxAlerts,
		"max_incidents", appConfig.MaxIncidents)

	memStore := store.NewMemoryStore(appConfig.MaxAlerts, appConfig.MaxIncidents)

	var pipelineStore central.Store = memStore
	if appConfig.DBHost != "" {
		pg, err := store.NewPostgresStore(appConfig.DBHost, appConfig.DBPort,
			appConfig.DBUser, appConfig.DBPassword, appConfig.DBName, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		logger.Info("connected to database", "host", appConfig.DBHost)
		pipelineStore = &durableStore{MemoryStore: memStore, pg: pg, logger: logger}
	}

	natsConn, err := transport.Connect(appConfig.NATSURL)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsConn.Close()
	logger.Info("connected to NATS")

	registry := prometheus.NewRegistry()
	centralMetrics := metrics.NewCentralMetrics(registry)

	strategies := []classify.Strategy{}
	if appConfig.AnalysisURL != "" {
		strategies = append(strategies, classify.NewRemoteStrategy("remote_llm", appConfig.AnalysisURL))
	}
	strategies = append(strategies, classify.SimulationStrategy{})

	correlator := correlate.New(memStore, logger)
	classifier := classify.New(logger, appConfig.ClassifyTimeout, strategies...)
	engine := coordinate.NewEngine(transport.NewCommandDispatcher(natsConn, logger), logger)
	learner := learn.NewLearner(logger)

	processor := central.NewProcessor(pipelineStore, correlator, classifier,
		engine, learner, centralMetrics, logger)

	alertServer, err := transport.NewAlertServer(natsConn, processor.HandleAlert, logger)
	if err != nil {
		logger.Error("failed to build alert server", "error", err)
		os.Exit(1)
	}
	alertServer.OnInvalid = centralMetrics.AlertsInvalidTotal.Inc
	if err := alertServer.Start(); err != nil {
		logger.Error("failed to start alert server", "error", err)
		os.Exit(1)
	}
	defer alertServer.Close()

	server := &http.Server{
		Addr:    appConfig.HTTPAddr,
		Handler: api.NewCentralServer(logger, memStore, engine, learner, registry),
	}
	go func() {
		logger.Info("central API listening", "addr", appConfig.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
}
