package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"carecompanion/internal/alerts"
	"carecompanion/internal/chat"
	"carecompanion/internal/clinical"
	"carecompanion/internal/config"
	"carecompanion/internal/httpapi"
	"carecompanion/internal/nurse"
	"carecompanion/internal/observability"
	"carecompanion/internal/pipeline"
	"carecompanion/internal/summarize"
	"carecompanion/internal/upstream/huggingface"
	"carecompanion/internal/upstream/openai"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel)
	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// No client-wide timeout: each stage bounds its own call.
	upstreamHTTPClient := &http.Client{Transport: transport}

	chatClient := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, upstreamHTTPClient, openai.WithObserver(metrics.UpstreamObserver("openai")))
	zeroShotClient := huggingface.New(cfg.HFBaseURL, upstreamHTTPClient, huggingface.WithObserver(metrics.UpstreamObserver("huggingface")))

	summarizer := summarize.New(chatClient, cfg.SummaryModel, cfg.SummaryMaxTokens, cfg.ServerSummaryTimeout())
	classifier := clinical.NewClassifier(zeroShotClient, cfg.HFModel, cfg.ClassificationTimeout, logger,
		clinical.WithVerdictObserver(metrics.ObserveClassification),
		clinical.WithFallbackObserver(metrics.IncClassificationFallback),
	)
	pipelineService := pipeline.New(summarizer, classifier, pipeline.Options{
		OpenAIKey:      cfg.OpenAIAPIKey,
		HuggingFaceKey: cfg.HFAPIKey,
	})
	nurseService := nurse.New(chatClient, cfg.NurseModel, cfg.NurseTimeout)
	chatService := chat.New(chatClient, cfg.ChatModel, cfg.ChatMaxTokens, cfg.ChatTimeout)

	publisher := alerts.New(alerts.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaAlertTopic}, logger,
		alerts.WithObserver(metrics.ObserveAlert),
	)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("alert publisher close failed", "error", err)
		}
	}()

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Pipeline:       pipelineService,
		Nurse:          nurseService,
		Chat:           chatService,
		Upstream:       chatClient,
		Alerts:         publisher,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ServerWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("credentials",
		"openai_key", presence(cfg.OpenAIAPIKey),
		"huggingface_key", presence(cfg.HFAPIKey),
		"alerts_enabled", publisher.Enabled(),
		"summary_timeout", cfg.ServerSummaryTimeout(),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func presence(key string) string {
	if key == "" {
		return "absent"
	}
	return "present"
}
