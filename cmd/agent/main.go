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

	"github.com/quadshield/quadshield/internal/agent"
	"github.com/quadshield/quadshield/internal/api"
	"github.com/quadshield/quadshield/internal/config"
	"github.com/quadshield/quadshield/internal/detect"
	"github.com/quadshield/quadshield/internal/metrics"
	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/transport"
)

// AppConfig represents the agent configuration from environment variables.
type AppConfig struct {
	AgentID         string
	HTTPAddr        string
	NATSURL         string
	DetectionConfig string
	RuleFile        string
}

func loadConfig() *AppConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "agent-unknown"
	}
	return &AppConfig{
		AgentID:         config.GetEnv("AGENT_ID", hostname),
		HTTPAddr:        config.GetEnv("AGENT_HTTP_ADDR", ":8081"),
		NATSURL:         config.GetEnv("AGENT_NATS_URL", "nats://localhost:4222"),
		DetectionConfig: config.GetEnv("AGENT_DETECTION_CONFIG", ""),
		RuleFile:        config.GetEnv("AGENT_RULE_FILE", ""),
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	appConfig := loadConfig()
	logger.Info("starting quadshield agent",
		"agent_id", appConfig.AgentID,
		"http_addr", appConfig.HTTPAddr,
		"nats_url", appConfig.NATSURL)

	detectCfg, err := config.LoadDetectionConfig(appConfig.DetectionConfig)
	if err != nil {
		logger.Error("failed to load detection config", "error", err)
		os.Exit(1)
	}

	pipeline, err := detect.NewPipeline(logger, detectCfg)
	if err != nil {
		logger.Error("failed to build detection pipeline", "error", err)
		os.Exit(1)
	}
	if appConfig.RuleFile != "" {
		if err := pipeline.LoadRuleFile(appConfig.RuleFile); err != nil {
			logger.Error("failed to load rule file", "path", appConfig.RuleFile, "error", err)
			os.Exit(1)
		}
		logger.Info("loaded extra detection rules", "path", appConfig.RuleFile)
	}

	natsConn, err := transport.Connect(appConfig.NATSURL)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsConn.Close()
	logger.Info("connected to NATS")

	registry := prometheus.NewRegistry()
	agentMetrics := metrics.NewAgentMetrics(registry)

	sender := transport.NewAlertClient(natsConn, logger)
	runtime := agent.NewRuntime(appConfig.AgentID, pipeline, sender,
		agent.LogExecutor{Logger: logger}, agentMetrics, logger)

	listener := transport.NewCommandListener(natsConn, logger)
	if err := listener.Listen(appConfig.AgentID, runtime.HandleCommandMessage, runtime.HandleEmergency); err != nil {
		logger.Error("failed to start command listener", "error", err)
		os.Exit(1)
	}
	defer listener.Close()

	events := transport.NewEventListener(natsConn, logger)
	if err := events.Listen(func(ev model.Event) {
		runtime.HandleEvent(context.Background(), ev)
	}); err != nil {
		logger.Error("failed to start event listener", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	server := &http.Server{
		Addr:    appConfig.HTTPAddr,
		Handler: api.NewAgentServer(logger, runtime, registry),
	}
	go func() {
		logger.Info("agent API listening", "addr", appConfig.HTTPAddr)
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
