package config

import (
	"errors"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr            string
	OpenAIBaseURL         string
	OpenAIAPIKey          string
	SummaryModel          string
	SummaryMaxTokens      int
	SummaryTimeout        time.Duration
	NurseModel            string
	NurseTimeout          time.Duration
	ChatModel             string
	ChatMaxTokens         int
	ChatTimeout           time.Duration
	HFBaseURL             string
	HFAPIKey              string
	HFModel               string
	ClassificationTimeout time.Duration
	RequestTimeout        time.Duration
	MaxBodyBytes          int64
	LogLevel              string
	KafkaBrokers          []string
	KafkaAlertTopic       string
}

type envConfig struct {
	ListenAddr                   string   `env:"LISTEN_ADDR" envDefault:":8080"`
	OpenAIBaseURL                string   `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey                 string   `env:"OPENAI_API_KEY"`
	SummaryModel                 string   `env:"SUMMARY_MODEL" envDefault:"gpt-3.5-turbo"`
	SummaryMaxTokens             int      `env:"SUMMARY_MAX_TOKENS" envDefault:"300"`
	SummaryTimeoutSeconds        int      `env:"SUMMARY_TIMEOUT_SECONDS" envDefault:"0"`
	NurseModel                   string   `env:"NURSE_MODEL" envDefault:"gpt-4"`
	NurseTimeoutSeconds          int      `env:"NURSE_TIMEOUT_SECONDS" envDefault:"30"`
	ChatModel                    string   `env:"CHAT_MODEL" envDefault:"gpt-4"`
	ChatMaxTokens                int      `env:"CHAT_MAX_TOKENS" envDefault:"1024"`
	ChatTimeoutSeconds           int      `env:"CHAT_TIMEOUT_SECONDS" envDefault:"30"`
	HFBaseURL                    string   `env:"HF_BASE_URL" envDefault:"https://api-inference.huggingface.co/models"`
	HFAPIKey                     string   `env:"HF_API_KEY"`
	HuggingFaceAPIKey            string   `env:"HUGGINGFACE_API_KEY"`
	HFModel                      string   `env:"HF_MODEL" envDefault:"facebook/bart-large-mnli"`
	ClassificationTimeoutSeconds int      `env:"CLASSIFICATION_TIMEOUT_SECONDS" envDefault:"30"`
	RequestTimeoutSeconds        int      `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"60"`
	MaxBodyBytes                 int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	LogLevel                     string   `env:"LOG_LEVEL" envDefault:"info"`
	KafkaBrokers                 []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAlertTopic              string   `env:"KAFKA_ALERT_TOPIC" envDefault:"clinical-attention-alerts"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	hfKey := strings.TrimSpace(raw.HFAPIKey)
	if hfKey == "" {
		hfKey = strings.TrimSpace(raw.HuggingFaceAPIKey)
	}

	cfg := Config{
		ListenAddr:            strings.TrimSpace(raw.ListenAddr),
		OpenAIBaseURL:         strings.TrimRight(strings.TrimSpace(raw.OpenAIBaseURL), "/"),
		OpenAIAPIKey:          strings.TrimSpace(raw.OpenAIAPIKey),
		SummaryModel:          strings.TrimSpace(raw.SummaryModel),
		SummaryMaxTokens:      raw.SummaryMaxTokens,
		SummaryTimeout:        time.Duration(raw.SummaryTimeoutSeconds) * time.Second,
		NurseModel:            strings.TrimSpace(raw.NurseModel),
		NurseTimeout:          time.Duration(raw.NurseTimeoutSeconds) * time.Second,
		ChatModel:             strings.TrimSpace(raw.ChatModel),
		ChatMaxTokens:         raw.ChatMaxTokens,
		ChatTimeout:           time.Duration(raw.ChatTimeoutSeconds) * time.Second,
		HFBaseURL:             strings.TrimRight(strings.TrimSpace(raw.HFBaseURL), "/"),
		HFAPIKey:              hfKey,
		HFModel:               strings.Trim(strings.TrimSpace(raw.HFModel), "/"),
		ClassificationTimeout: time.Duration(raw.ClassificationTimeoutSeconds) * time.Second,
		RequestTimeout:        time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		MaxBodyBytes:          raw.MaxBodyBytes,
		LogLevel:              strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		KafkaBrokers:          cleanList(raw.KafkaBrokers),
		KafkaAlertTopic:       strings.TrimSpace(raw.KafkaAlertTopic),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.OpenAIBaseURL == "" {
		return errors.New("OPENAI_BASE_URL must not be empty")
	}
	if c.SummaryModel == "" {
		return errors.New("SUMMARY_MODEL must not be empty")
	}
	if c.SummaryMaxTokens <= 0 {
		return errors.New("SUMMARY_MAX_TOKENS must be > 0")
	}
	if c.SummaryTimeout < 0 {
		return errors.New("SUMMARY_TIMEOUT_SECONDS must be >= 0")
	}
	if c.NurseModel == "" {
		return errors.New("NURSE_MODEL must not be empty")
	}
	if c.NurseTimeout <= 0 {
		return errors.New("NURSE_TIMEOUT_SECONDS must be > 0")
	}
	if c.ChatModel == "" {
		return errors.New("CHAT_MODEL must not be empty")
	}
	if c.ChatMaxTokens <= 0 {
		return errors.New("CHAT_MAX_TOKENS must be > 0")
	}
	if c.ChatTimeout <= 0 {
		return errors.New("CHAT_TIMEOUT_SECONDS must be > 0")
	}
	if c.HFBaseURL == "" {
		return errors.New("HF_BASE_URL must not be empty")
	}
	if c.HFModel == "" {
		return errors.New("HF_MODEL must not be empty")
	}
	if c.ClassificationTimeout <= 0 {
		return errors.New("CLASSIFICATION_TIMEOUT_SECONDS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be > 0")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaAlertTopic == "" {
		return errors.New("KAFKA_ALERT_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	return nil
}

// ServerSummaryTimeout is the summarization deadline used by the API server.
// An unset SUMMARY_TIMEOUT_SECONDS falls back to REQUEST_TIMEOUT_SECONDS there, while
// the CLI keeps summarization unbounded. Classification keeps its own deadline.
func (c Config) ServerSummaryTimeout() time.Duration {
	if c.SummaryTimeout > 0 {
		return c.SummaryTimeout
	}
	return c.RequestTimeout
}

// ServerWriteTimeout leaves room for a full summarization followed by a full
// classification before the connection is cut.
func (c Config) ServerWriteTimeout() time.Duration {
	return c.ServerSummaryTimeout() + c.ClassificationTimeout + 10*time.Second
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
