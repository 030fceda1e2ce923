// Package events publishes pipeline events to downstream Kafka topics.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-insights-service/internal/observability/metrics"
)

// Publisher publishes pipeline events to separate Kafka topics: stage
// progress for live dashboards and finalized records for downstream
// analytics.
type Publisher struct {
	writerProgress *kafka.Writer
	writerRecord   *kafka.Writer
	principal      string
	topicProgress  string
	topicRecord    string
	enabled        bool
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicProgress string
	TopicRecord   string
	Principal     string
	Enabled       bool
}

// New creates a new Kafka event publisher with separate topics for
// progress and finalized-record events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicProgress: cfg.TopicProgress,
			topicRecord:   cfg.TopicRecord,
			enabled:       false,
			metrics:       m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerProgress := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicProgress,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerRecord := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicRecord,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicProgress", cfg.TopicProgress).
		Str("topicRecord", cfg.TopicRecord).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerProgress: writerProgress,
		writerRecord:   writerRecord,
		principal:      cfg.Principal,
		topicProgress:  cfg.TopicProgress,
		topicRecord:    cfg.TopicRecord,
		enabled:        true,
		metrics:        m,
	}
}

// PublishProgress publishes a stage progress event, keyed by session id.
func (p *Publisher) PublishProgress(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerProgress, p.topicProgress, "progress", key, event)
}

// PublishRecord publishes a finalized call record, keyed by record id.
func (p *Publisher) PublishRecord(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerRecord, p.topicRecord, "record", key, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerProgress != nil {
		if e := p.writerProgress.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing progress writer")
			err = e
		}
	}
	if p.writerRecord != nil {
		if e := p.writerRecord.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing record writer")
			err = e
		}
	}
	return err
}
