package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	httpapi "call-insights-service/internal/api/http"
	"call-insights-service/internal/app"
	"call-insights-service/internal/config"
	"call-insights-service/internal/events"
	"call-insights-service/internal/models"
	"call-insights-service/internal/observability"
	"call-insights-service/internal/pipeline"
	"call-insights-service/internal/progress"
	"call-insights-service/internal/service/analysis"
	analysismock "call-insights-service/internal/service/analysis/mock"
	"call-insights-service/internal/service/analysis/openai"
	"call-insights-service/internal/service/stt"
	sttgoogle "call-insights-service/internal/service/stt/google"
	sttmock "call-insights-service/internal/service/stt/mock"
	"call-insights-service/internal/session"
	"call-insights-service/internal/store"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application startup failed")
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open record store")
	}
	defer db.Close()

	registry := session.NewRegistry(cfg.Session.TTL, cfg.Session.SweepInterval)
	broadcaster := progress.NewBroadcaster(registry)

	// Evicted sessions still owe their subscribers a terminal event.
	registry.SetEvictionHandler(func(st session.State) {
		broadcaster.Publish(models.ProgressEvent{
			EventType: models.EventTypeFailed,
			SessionID: st.SessionID,
			Stage:     models.StageError.String(),
			Progress:  st.Progress,
			Message:   "Processing failed",
			Terminal:  true,
			Error:     st.Message,
		})
	})
	registry.Start()
	defer registry.Stop()

	// Kafka publisher with separate topics for progress and finalized records
	publisher := events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicProgress: cfg.Kafka.TopicProgress,
		TopicRecord:   cfg.Kafka.TopicRecord,
		Principal:     cfg.Kafka.Principal,
	})
	defer publisher.Close()

	transcriber := newTranscriber(cfg)
	analyzer := newAnalyzer(cfg)

	orchestrator := pipeline.New(registry, broadcaster, db, transcriber, analyzer, publisher, pipeline.Config{
		TranscribeTimeout: cfg.Pipeline.TranscribeTimeout,
		AnalyzeTimeout:    cfg.Pipeline.AnalyzeTimeout,
		SaveAttempts:      cfg.Pipeline.SaveAttempts,
		SaveBackoff:       cfg.Pipeline.SaveBackoff,
	})

	handler, err := httpapi.NewHandler(cfg.Upload.Dir, cfg.Upload.MaxBytes, orchestrator, db, broadcaster)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API handler")
	}

	obsServer := observability.NewServer(cfg.Observability.MetricsAddr)
	obsServer.Start()

	server := &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     httpapi.NewRouter(handler),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("Call insights service started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown failed")
	}
	application.Shutdown()
}

func newTranscriber(cfg *config.Config) stt.Transcriber {
	switch cfg.STT.Provider {
	case "google":
		adapter, err := sttgoogle.New(context.Background(), cfg.STT.LanguageCode)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Google STT adapter")
		}
		log.Info().Msg("Using Google Cloud Speech-to-Text")
		return adapter
	default:
		log.Info().Msg("Using mock transcriber")
		return sttmock.New()
	}
}

func newAnalyzer(cfg *config.Config) analysis.Analyzer {
	switch cfg.Analysis.Provider {
	case "openai":
		client, err := openai.New(openai.Config{
			BaseURL: cfg.Analysis.BaseURL,
			APIKey:  cfg.Analysis.APIKey,
			Model:   cfg.Analysis.Model,
			Timeout: cfg.Analysis.Timeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create analysis client")
		}
		log.Info().Str("model", cfg.Analysis.Model).Msg("Using OpenAI transcript analysis")
		return client
	default:
		log.Info().Msg("Using mock analyzer")
		return analysismock.New()
	}
}
