package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edisonlabs/assist-gateway/internal/assistant"
	"github.com/edisonlabs/assist-gateway/internal/auditlog"
	"github.com/edisonlabs/assist-gateway/internal/config"
	"github.com/edisonlabs/assist-gateway/internal/gateway"
	"github.com/edisonlabs/assist-gateway/internal/server"
	"github.com/edisonlabs/assist-gateway/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("assist-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(os.Getenv("ASSIST_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.OpenAI.Configured() {
		logger.Warn("remote credentials incomplete, submissions will be rejected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	var clientOpts []assistant.ClientOption
	if cfg.OpenAI.BaseURL != "" {
		clientOpts = append(clientOpts, assistant.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	client := assistant.NewClient(cfg.OpenAI.APIKey, clientOpts...)

	audit := auditlog.NewForwarder(cfg.AuditLog.WebhookURL, cfg.AuditLog.Token, logger)
	if !audit.Enabled() {
		logger.Info("audit log forwarding disabled")
	}

	handler := gateway.NewHandler(cfg, client, audit, logger, metrics)

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Post("/assist", handler.HandleAssist)
	srv.Router.Options("/assist", handler.HandlePreflight)
	srv.Router.MethodNotAllowed(handler.HandleMethodNotAllowed)
	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"ok":true}`))
	})
	srv.Router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
