package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("HF_API_KEY", "")
	t.Setenv("HUGGINGFACE_API_KEY", "hf-legacy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("unexpected openai key: %q", cfg.OpenAIAPIKey)
	}
	if cfg.HFAPIKey != "hf-legacy" {
		t.Fatalf("expected HUGGINGFACE_API_KEY alias, got %q", cfg.HFAPIKey)
	}
	if cfg.ClassificationTimeout != 30*time.Second {
		t.Fatalf("unexpected classification timeout: %s", cfg.ClassificationTimeout)
	}
	if cfg.SummaryTimeout != 0 {
		t.Fatalf("expected no summary timeout by default, got %s", cfg.SummaryTimeout)
	}
	if cfg.SummaryMaxTokens != 300 || cfg.SummaryModel != "gpt-3.5-turbo" {
		t.Fatalf("unexpected summary defaults: %d %q", cfg.SummaryMaxTokens, cfg.SummaryModel)
	}
	if cfg.HFModel != "facebook/bart-large-mnli" {
		t.Fatalf("unexpected hf model: %q", cfg.HFModel)
	}
	if cfg.ChatModel != "gpt-4" || cfg.ChatMaxTokens != 1024 || cfg.ChatTimeout != 30*time.Second {
		t.Fatalf("unexpected chat defaults: %q %d %s", cfg.ChatModel, cfg.ChatMaxTokens, cfg.ChatTimeout)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadTrimsBaseURLsAndBrokers(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "http://localhost:9000/v1/")
	t.Setenv("HF_BASE_URL", "http://localhost:9001/models/")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIBaseURL != "http://localhost:9000/v1" {
		t.Fatalf("unexpected openai base url: %q", cfg.OpenAIBaseURL)
	}
	if cfg.HFBaseURL != "http://localhost:9001/models" {
		t.Fatalf("unexpected hf base url: %q", cfg.HFBaseURL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsInvalidClassificationTimeout(t *testing.T) {
	t.Setenv("CLASSIFICATION_TIMEOUT_SECONDS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero classification timeout")
	}
}

func TestValidateRequiresTopicWithBrokers(t *testing.T) {
	cfg := Config{
		ListenAddr:            ":8080",
		OpenAIBaseURL:         "http://x",
		SummaryModel:          "m",
		SummaryMaxTokens:      10,
		NurseModel:            "n",
		NurseTimeout:          time.Second,
		ChatModel:             "c",
		ChatMaxTokens:         10,
		ChatTimeout:           time.Second,
		HFBaseURL:             "http://y",
		HFModel:               "bart",
		ClassificationTimeout: time.Second,
		RequestTimeout:        time.Second,
		MaxBodyBytes:          1,
		KafkaBrokers:          []string{"kafka:9092"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when topic is empty")
	}
	cfg.KafkaAlertTopic = "alerts"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestServerSummaryTimeout(t *testing.T) {
	cfg := Config{RequestTimeout: 60 * time.Second, ClassificationTimeout: 30 * time.Second}
	if got := cfg.ServerSummaryTimeout(); got != 60*time.Second {
		t.Fatalf("expected request timeout fallback, got %s", got)
	}
	if got := cfg.ServerWriteTimeout(); got != 100*time.Second {
		t.Fatalf("write timeout must cover both stages, got %s", got)
	}

	cfg.SummaryTimeout = 20 * time.Second
	if got := cfg.ServerSummaryTimeout(); got != 20*time.Second {
		t.Fatalf("explicit summary timeout must win, got %s", got)
	}
}
