package events

import (
	"context"
	"testing"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerProgress != nil {
				t.Error("expected nil progress writer when disabled")
			}
			if p.writerRecord != nil {
				t.Error("expected nil record writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicProgress: "test.progress",
		TopicRecord:   "test.record",
		Principal:     "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicProgress != "test.progress" {
		t.Errorf("expected topic progress 'test.progress', got %s", p.topicProgress)
	}
	if p.topicRecord != "test.record" {
		t.Errorf("expected topic record 'test.record', got %s", p.topicRecord)
	}
}

func TestPublisher_PublishProgress_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := map[string]string{"stage": "transcribing"}
	err := p.PublishProgress(context.Background(), "test-session", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishRecord_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := map[string]string{"id": "rec-1"}
	err := p.PublishRecord(context.Background(), "rec-1", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Channels are not marshalable
	event := make(chan int)
	if err := p.PublishProgress(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable progress event")
	}
	if err := p.PublishRecord(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable record event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
