// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Upload        UploadConfig
	Pipeline      PipelineConfig
	Session       SessionConfig
	STT           STTConfig
	Analysis      AnalysisConfig
	Store         StoreConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// UploadConfig holds artifact intake settings.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

// PipelineConfig holds per-stage execution settings.
type PipelineConfig struct {
	TranscribeTimeout time.Duration
	AnalyzeTimeout    time.Duration
	SaveAttempts      int
	SaveBackoff       time.Duration
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider     string // "mock" or "google"
	LanguageCode string
}

// AnalysisConfig selects and configures the transcript analysis provider.
type AnalysisConfig struct {
	Provider string // "mock" or "openai"
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// StoreConfig holds record store settings.
type StoreConfig struct {
	Path string
}

// KafkaConfig holds downstream event publishing configuration.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicProgress string
	TopicRecord   string
	Principal     string
}

// ObservabilityConfig holds logging and metrics configuration.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads configuration from the environment, falling back to
// defaults for anything unset or unparsable.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-insights")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Upload: UploadConfig{
			Dir:      envOrDefault("UPLOAD_DIR", "uploads"),
			MaxBytes: envOrDefaultInt64("UPLOAD_MAX_BYTES", 100*1024*1024),
		},
		Pipeline: PipelineConfig{
			TranscribeTimeout: envOrDefaultDuration("PIPELINE_TRANSCRIBE_TIMEOUT", 5*time.Minute),
			AnalyzeTimeout:    envOrDefaultDuration("PIPELINE_ANALYZE_TIMEOUT", time.Minute),
			SaveAttempts:      envOrDefaultInt("PIPELINE_SAVE_ATTEMPTS", 3),
			SaveBackoff:       envOrDefaultDuration("PIPELINE_SAVE_BACKOFF", 500*time.Millisecond),
		},
		Session: SessionConfig{
			TTL:           envOrDefaultDuration("SESSION_TTL", 15*time.Minute),
			SweepInterval: envOrDefaultDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),
		},
		STT: STTConfig{
			Provider:     envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode: envOrDefault("STT_LANGUAGE_CODE", "en-US"),
		},
		Analysis: AnalysisConfig{
			Provider: envOrDefault("ANALYSIS_PROVIDER", "mock"),
			BaseURL:  envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:   os.Getenv("OPENAI_API_KEY"),
			Model:    envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
			Timeout:  envOrDefaultDuration("ANALYSIS_HTTP_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Path: envOrDefault("DB_PATH", "call_insights.sqlite"),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", nil),
			TopicProgress: envOrDefault("KAFKA_TOPIC_PROGRESS", "call.progress"),
			TopicRecord:   envOrDefault("KAFKA_TOPIC_RECORD", "call.record.finalized"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
