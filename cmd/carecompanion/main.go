package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"carecompanion/internal/cli"
	"carecompanion/internal/clinical"
	"carecompanion/internal/config"
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

	logger := observability.NewLogger(os.Stderr, cfg.LogLevel)

	httpClient := &http.Client{}
	summarizer := summarize.New(openai.New(cfg.OpenAIBaseURL, "", httpClient), cfg.SummaryModel, cfg.SummaryMaxTokens, cfg.SummaryTimeout)
	classifier := clinical.NewClassifier(huggingface.New(cfg.HFBaseURL, httpClient), cfg.HFModel, cfg.ClassificationTimeout, logger)

	cmd := cli.NewRootCommand(cli.Deps{
		Processor:      pipeline.New(summarizer, classifier, pipeline.Options{}),
		Logger:         logger,
		OpenAIKey:      cfg.OpenAIAPIKey,
		HuggingFaceKey: cfg.HFAPIKey,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
