// Package alerts publishes verdicts that need clinical attention to Kafka so that
// clinical staff tooling can pick them up. Without brokers it runs in log-only mode.
package alerts

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"carecompanion/internal/clinical"
)

type Alert struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	RequestID string           `json:"request_id,omitempty"`
	Summary   string           `json:"summary"`
	Verdict   clinical.Verdict `json:"verdict"`
}

func NewAlert(summary string, verdict clinical.Verdict, requestID string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		RequestID: requestID,
		Summary:   summary,
		Verdict:   verdict,
	}
}

// DefaultPublishTimeout bounds a single background publish.
const DefaultPublishTimeout = 5 * time.Second

type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Option func(*Publisher)

// WithObserver is called with "published", "failed" or "skipped" after every Publish.
func WithObserver(fn func(outcome string)) Option {
	return func(p *Publisher) {
		p.observe = fn
	}
}

type Publisher struct {
	writer   messageWriter
	topic    string
	logger   *slog.Logger
	observe  func(outcome string)
	timeout  time.Duration
	inflight sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{topic: cfg.Topic, logger: logger, timeout: DefaultPublishTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if len(cfg.Brokers) == 0 {
		logger.Info("alert publisher disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	logger.Info("alert publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.writer != nil
}

func (p *Publisher) Publish(ctx context.Context, alert Alert) error {
	if p == nil {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		p.record("failed")
		return err
	}

	if p.writer == nil {
		p.logger.Info("clinical attention alert",
			"alert_id", alert.ID,
			"request_id", alert.RequestID,
			"method", alert.Verdict.Method,
		)
		p.record("skipped")
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(alert.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("clinical_attention")},
			{Key: "method", Value: []byte(alert.Verdict.Method)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish alert", "alert_id", alert.ID, "topic", p.topic, "error", err)
		p.record("failed")
		return err
	}
	p.record("published")
	return nil
}

// PublishAsync publishes in the background, bounded by the publish timeout.
// Cancellation of ctx is ignored so the alert outlives the request that raised it.
// Failures are logged and counted only.
func (p *Publisher) PublishAsync(ctx context.Context, alert Alert) {
	if p == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		_ = p.Publish(ctx, alert)
	}()
}

// Close waits for background publishes before closing the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.inflight.Wait()
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Publisher) record(outcome string) {
	if p.observe != nil {
		p.observe(outcome)
	}
}
