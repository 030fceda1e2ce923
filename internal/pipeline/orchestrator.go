// Package pipeline drives an uploaded artifact through the processing
// state machine: received, transcribing, analyzing, saving, complete.
// Every transition updates the session registry and publishes a
// progress event; transcription and analysis failures degrade the
// record, only persistence failure is fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"call-insights-service/internal/events"
	"call-insights-service/internal/models"
	"call-insights-service/internal/observability/logging"
	"call-insights-service/internal/observability/metrics"
	"call-insights-service/internal/progress"
	"call-insights-service/internal/service/analysis"
	"call-insights-service/internal/service/stt"
	"call-insights-service/internal/session"
	"call-insights-service/internal/store"
)

// FallbackTranscript is the sentinel stored when transcription fails or
// returns an empty result. Transcription failure is never fatal.
const FallbackTranscript = "transcription unavailable"

// RecordStore is the slice of the record store the pipeline needs.
type RecordStore interface {
	CreateCall(rec models.CallRecord) (string, error)
	UpdateCall(id string, upd store.CallUpdate) error
	GetCall(id string) (*models.CallRecord, error)
	DeleteCall(id string) error
}

// Artifact references a validated, persisted-to-disk upload.
type Artifact struct {
	Filename    string
	StoragePath string
}

// Config holds per-stage execution settings.
type Config struct {
	TranscribeTimeout time.Duration
	AnalyzeTimeout    time.Duration
	// SaveAttempts bounds record store attempts before a persistence
	// failure is declared fatal.
	SaveAttempts int
	SaveBackoff  time.Duration
}

// DefaultConfig returns sensible pipeline defaults.
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: 5 * time.Minute,
		AnalyzeTimeout:    time.Minute,
		SaveAttempts:      3,
		SaveBackoff:       500 * time.Millisecond,
	}
}

// Orchestrator executes one pipeline run per accepted artifact. Runs
// for independent sessions proceed fully in parallel; within a session
// stages are strictly sequential.
type Orchestrator struct {
	registry    *session.Registry
	broadcaster *progress.Broadcaster
	store       RecordStore
	transcriber stt.Transcriber
	analyzer    analysis.Analyzer
	publisher   *events.Publisher
	cfg         Config
	metrics     *metrics.Metrics
}

// New creates an orchestrator.
func New(
	registry *session.Registry,
	broadcaster *progress.Broadcaster,
	recordStore RecordStore,
	transcriber stt.Transcriber,
	analyzer analysis.Analyzer,
	publisher *events.Publisher,
	cfg Config,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = def.TranscribeTimeout
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = def.AnalyzeTimeout
	}
	if cfg.SaveAttempts <= 0 {
		cfg.SaveAttempts = def.SaveAttempts
	}
	if cfg.SaveBackoff <= 0 {
		cfg.SaveBackoff = def.SaveBackoff
	}
	return &Orchestrator{
		registry:    registry,
		broadcaster: broadcaster,
		store:       recordStore,
		transcriber: transcriber,
		analyzer:    analyzer,
		publisher:   publisher,
		cfg:         cfg,
		metrics:     metrics.DefaultMetrics,
	}
}

// Start claims the session id and launches the pipeline on its own
// goroutine. Returns session.ErrSessionConflict if the id is already
// owned by a live session; an id freed by a terminal run is accepted.
func (o *Orchestrator) Start(sessionID string, artifact Artifact) error {
	if err := o.registry.Open(sessionID); err != nil {
		return err
	}
	o.metrics.RecordPipelineStart()
	go o.run(sessionID, artifact)
	return nil
}

// Run executes the pipeline synchronously. Exposed for callers that
// want to wait for the terminal state; Start is the normal entrypoint.
func (o *Orchestrator) Run(sessionID string, artifact Artifact) error {
	if err := o.registry.Open(sessionID); err != nil {
		return err
	}
	o.metrics.RecordPipelineStart()
	o.run(sessionID, artifact)
	return nil
}

func (o *Orchestrator) run(sessionID string, artifact Artifact) {
	start := time.Now()
	logger := logging.WithSession(sessionID)
	logger.Info().Str("filename", artifact.Filename).Msg("Pipeline started")

	o.transition(sessionID, models.StageReceived, "Creating call record")

	callID, err := o.createWithRetry(artifact)
	if err != nil {
		o.fail(sessionID, artifact, start, fmt.Errorf("create call record: %w", err))
		return
	}
	logger = logging.WithCall(sessionID, callID)

	o.transition(sessionID, models.StageTranscribing, "Transcribing audio")
	transcript := o.transcribe(logger, artifact.StoragePath)

	o.transition(sessionID, models.StageAnalyzing, "Analyzing transcript")
	result := o.analyze(logger, transcript)

	o.transition(sessionID, models.StageSaving, "Saving results")
	if err := o.saveWithRetry(callID, transcript, result); err != nil {
		o.metrics.PersistenceFailures.Inc()
		// Roll back the placeholder so no half-written record remains.
		if delErr := o.store.DeleteCall(callID); delErr != nil && !errors.Is(delErr, store.ErrRecordNotFound) {
			logger.Error().Err(delErr).Msg("Failed to roll back placeholder record")
		}
		o.fail(sessionID, artifact, start, fmt.Errorf("persist call record: %w", err))
		return
	}

	rec, err := o.store.GetCall(callID)
	if err != nil {
		// The update above succeeded, so this should not happen;
		// degrade the terminal payload rather than failing the run.
		logger.Error().Err(err).Msg("Failed to load finalized record")
		rec = &models.CallRecord{ID: callID, Filename: artifact.Filename}
	}

	o.registry.Update(sessionID, models.StageComplete, models.StageComplete.Progress(), "Processing complete")
	o.broadcaster.Publish(models.ProgressEvent{
		EventType: models.EventTypeCompleted,
		SessionID: sessionID,
		Stage:     models.StageComplete.String(),
		Progress:  models.StageComplete.Progress(),
		Message:   "Processing complete",
		Terminal:  true,
		Record:    rec,
	})
	if err := o.publisher.PublishRecord(context.Background(), rec.ID, rec); err != nil {
		logger.Error().Err(err).Msg("Failed to publish finalized record")
	}
	o.registry.Close(sessionID)
	o.metrics.RecordPipelineEnd(true, time.Since(start).Seconds())
	logger.Info().Dur("duration", time.Since(start)).Msg("Pipeline complete")
}

// transition enters a non-terminal stage: registry update first, so
// replay-on-subscribe always reflects at least this stage, then the
// live event.
func (o *Orchestrator) transition(sessionID string, stage models.Stage, message string) {
	if err := o.registry.Update(sessionID, stage, stage.Progress(), message); err != nil {
		logger := logging.WithSession(sessionID)
		logger.Warn().Err(err).
			Str("stage", stage.String()).Msg("Registry update failed")
	}
	ev := models.ProgressEvent{
		EventType: models.EventTypeProgress,
		SessionID: sessionID,
		Stage:     stage.String(),
		Progress:  stage.Progress(),
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
	o.broadcaster.Publish(ev)
	if err := o.publisher.PublishProgress(context.Background(), sessionID, ev); err != nil {
		logger := logging.WithSession(sessionID)
		logger.Warn().Err(err).Msg("Failed to publish progress to Kafka")
	}
}

func (o *Orchestrator) transcribe(logger zerolog.Logger, audioPath string) string {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TranscribeTimeout)
	defer cancel()

	started := time.Now()
	text, err := o.transcriber.Transcribe(ctx, audioPath)
	o.metrics.RecordStage(models.StageTranscribing.String(), time.Since(started).Seconds())

	if err != nil {
		o.metrics.RecordDegraded(models.StageTranscribing.String())
		logger.Warn().Err(err).Msg("Transcription failed, storing fallback transcript")
		return FallbackTranscript
	}
	if strings.TrimSpace(text) == "" {
		o.metrics.RecordDegraded(models.StageTranscribing.String())
		logger.Warn().Msg("Transcription empty, storing fallback transcript")
		return FallbackTranscript
	}
	return text
}

func (o *Orchestrator) analyze(logger zerolog.Logger, transcript string) models.Analysis {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.AnalyzeTimeout)
	defer cancel()

	started := time.Now()
	result, err := o.analyzer.Analyze(ctx, transcript)
	o.metrics.RecordStage(models.StageAnalyzing.String(), time.Since(started).Seconds())

	if err != nil {
		o.metrics.RecordDegraded(models.StageAnalyzing.String())
		logger.Warn().Err(err).Msg("Analysis failed, storing default analysis")
		return analysis.Default()
	}
	return analysis.Normalize(result)
}

func (o *Orchestrator) createWithRetry(artifact Artifact) (string, error) {
	var callID string
	operation := func() error {
		id, err := o.store.CreateCall(models.CallRecord{
			Filename:    artifact.Filename,
			StoragePath: artifact.StoragePath,
			Intent:      "other",
			Mood:        "neutral",
		})
		if err != nil {
			o.metrics.PersistenceRetries.Inc()
			return err
		}
		callID = id
		return nil
	}
	if err := backoff.Retry(operation, o.saveBackoff()); err != nil {
		return "", err
	}
	return callID, nil
}

func (o *Orchestrator) saveWithRetry(callID, transcript string, result models.Analysis) error {
	upd := store.CallUpdate{
		Transcript: &transcript,
		Summary:    &result.Summary,
		Tags:       &result.Tags,
		Roles:      &result.Roles,
		Emotions:   &result.Emotions,
		Intent:     &result.Intent,
		Mood:       &result.Mood,
		Insights:   &result.Insights,
	}
	operation := func() error {
		if err := o.store.UpdateCall(callID, upd); err != nil {
			o.metrics.PersistenceRetries.Inc()
			return err
		}
		return nil
	}
	return backoff.Retry(operation, o.saveBackoff())
}

// saveBackoff returns the bounded retry policy for record store calls.
// Attempts are finite; exhausting them is a fatal persistence failure.
func (o *Orchestrator) saveBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.SaveBackoff
	return backoff.WithMaxRetries(bo, uint64(o.cfg.SaveAttempts-1))
}

// fail enters the terminal error state: last-known progress is kept on
// the event, the artifact is removed, the session is closed.
func (o *Orchestrator) fail(sessionID string, artifact Artifact, start time.Time, cause error) {
	logger := logging.WithSession(sessionID)
	lastProgress := 0
	if st, ok := o.registry.Get(sessionID); ok {
		lastProgress = st.Progress
	}
	if err := o.registry.Update(sessionID, models.StageError, lastProgress, cause.Error()); err != nil {
		logger.Warn().Err(err).Msg("Registry update failed on error transition")
	}

	ev := models.ProgressEvent{
		EventType: models.EventTypeFailed,
		SessionID: sessionID,
		Stage:     models.StageError.String(),
		Progress:  lastProgress,
		Message:   "Processing failed",
		Terminal:  true,
		Error:     cause.Error(),
	}
	o.broadcaster.Publish(ev)
	if err := o.publisher.PublishProgress(context.Background(), sessionID, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish failure to Kafka")
	}
	o.registry.Close(sessionID)

	if artifact.StoragePath != "" {
		if err := os.Remove(artifact.StoragePath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("Failed to remove artifact")
		}
	}

	o.metrics.RecordPipelineEnd(false, time.Since(start).Seconds())
	logger.Error().Err(cause).Msg("Pipeline failed")
}
