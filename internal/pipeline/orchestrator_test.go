package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"call-insights-service/internal/events"
	"call-insights-service/internal/models"
	"call-insights-service/internal/progress"
	"call-insights-service/internal/session"
	"call-insights-service/internal/store"
)

type transcribeFunc func(ctx context.Context, audioPath string) (string, error)

func (f transcribeFunc) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f(ctx, audioPath)
}

type analyzeFunc func(ctx context.Context, transcript string) (models.Analysis, error)

func (f analyzeFunc) Analyze(ctx context.Context, transcript string) (models.Analysis, error) {
	return f(ctx, transcript)
}

// fakeStore is an in-memory RecordStore with switchable failures.
type fakeStore struct {
	mu          sync.Mutex
	records     map[string]*models.CallRecord
	nextID      int
	failUpdates bool
	failCreates bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*models.CallRecord)}
}

func (s *fakeStore) CreateCall(rec models.CallRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreates {
		return "", errors.New("create failed")
	}
	s.nextID++
	rec.ID = fmt.Sprintf("call-%d", s.nextID)
	s.records[rec.ID] = &rec
	return rec.ID, nil
}

func (s *fakeStore) UpdateCall(id string, upd store.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates {
		return errors.New("update failed")
	}
	rec, ok := s.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	if upd.Transcript != nil {
		rec.Transcript = *upd.Transcript
	}
	if upd.Summary != nil {
		rec.Summary = *upd.Summary
	}
	if upd.Tags != nil {
		rec.TagsOriginal = *upd.Tags
		if rec.TagsOverride == nil {
			rec.Tags = *upd.Tags
		}
	}
	if upd.Roles != nil {
		rec.Roles = *upd.Roles
	}
	if upd.Emotions != nil {
		rec.Emotions = *upd.Emotions
	}
	if upd.Intent != nil {
		rec.Intent = *upd.Intent
	}
	if upd.Mood != nil {
		rec.Mood = *upd.Mood
	}
	if upd.Insights != nil {
		rec.Insights = *upd.Insights
	}
	return nil
}

func (s *fakeStore) GetCall(id string) (*models.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) DeleteCall(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return store.ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

type fixture struct {
	registry    *session.Registry
	broadcaster *progress.Broadcaster
	store       *fakeStore
	orch        *Orchestrator
}

func newFixture(t *testing.T, transcriber transcribeFunc, analyzer analyzeFunc, st *fakeStore) *fixture {
	t.Helper()
	registry := session.NewRegistry(time.Minute, time.Minute)
	broadcaster := progress.NewBroadcaster(registry)
	publisher := events.New(&events.Config{Enabled: false})
	orch := New(registry, broadcaster, st, transcriber, analyzer, publisher, Config{
		TranscribeTimeout: time.Second,
		AnalyzeTimeout:    time.Second,
		SaveAttempts:      3,
		SaveBackoff:       time.Millisecond,
	})
	return &fixture{registry: registry, broadcaster: broadcaster, store: st, orch: orch}
}

func happyTranscriber(t *testing.T) transcribeFunc {
	t.Helper()
	return func(ctx context.Context, audioPath string) (string, error) {
		return "hello world", nil
	}
}

func happyAnalyzer(t *testing.T) analyzeFunc {
	t.Helper()
	return func(ctx context.Context, transcript string) (models.Analysis, error) {
		return models.Analysis{
			Summary:  "Caller asked about pricing.",
			Tags:     []string{"inquiry"},
			Roles:    map[string]string{"SPEAKER_1": "agent"},
			Emotions: []string{"calm"},
			Intent:   "inquiry",
			Mood:     "positive",
			Insights: []string{"answer pricing questions faster"},
		}, nil
	}
}

func writeArtifact(t *testing.T) Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return Artifact{Filename: "call.wav", StoragePath: path}
}

func drain(sub *progress.ChanSubscriber) []models.ProgressEvent {
	var out []models.ProgressEvent
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t, happyTranscriber(t), happyAnalyzer(t), newFakeStore())
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drain(sub)
	wantStages := []struct {
		stage    string
		progress int
	}{
		{"received", 0},
		{"transcribing", 25},
		{"analyzing", 50},
		{"saving", 75},
		{"complete", 100},
	}
	if len(evs) != len(wantStages) {
		t.Fatalf("got %d events, want %d: %+v", len(evs), len(wantStages), evs)
	}
	for i, want := range wantStages {
		if evs[i].Stage != want.stage || evs[i].Progress != want.progress {
			t.Errorf("event %d: got %s/%d, want %s/%d",
				i, evs[i].Stage, evs[i].Progress, want.stage, want.progress)
		}
	}

	final := evs[len(evs)-1]
	if !final.Terminal {
		t.Error("final event should be terminal")
	}
	if final.EventType != models.EventTypeCompleted {
		t.Errorf("final event type = %s, want %s", final.EventType, models.EventTypeCompleted)
	}
	if final.Record == nil {
		t.Fatal("terminal complete event should carry the record")
	}
	if final.Record.Transcript != "hello world" {
		t.Errorf("transcript = %q, want %q", final.Record.Transcript, "hello world")
	}
	if len(final.Record.Tags) != 1 || final.Record.Tags[0] != "inquiry" {
		t.Errorf("tags = %v, want [inquiry]", final.Record.Tags)
	}
	if final.Record.TagsOverride != nil {
		t.Errorf("tags override should be nil, got %v", final.Record.TagsOverride)
	}

	// Session is freed after the terminal event.
	if _, ok := f.registry.Get("s-1"); ok {
		t.Error("session should be closed after completion")
	}
}

func TestRunSessionConflict(t *testing.T) {
	f := newFixture(t, happyTranscriber(t), happyAnalyzer(t), newFakeStore())
	if err := f.registry.Open("s-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	err := f.orch.Run("s-1", writeArtifact(t))
	if !errors.Is(err, session.ErrSessionConflict) {
		t.Fatalf("err = %v, want ErrSessionConflict", err)
	}
}

func TestRunTranscriptionFailureDegrades(t *testing.T) {
	var gotTranscript string
	analyzer := func(ctx context.Context, transcript string) (models.Analysis, error) {
		gotTranscript = transcript
		return models.Analysis{Summary: "degraded run", Intent: "other", Mood: "neutral"}, nil
	}
	transcriber := func(ctx context.Context, audioPath string) (string, error) {
		return "", errors.New("stt backend unreachable")
	}
	f := newFixture(t, transcriber, analyzer, newFakeStore())
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gotTranscript != FallbackTranscript {
		t.Errorf("analyzer saw %q, want fallback sentinel", gotTranscript)
	}
	evs := drain(sub)
	final := evs[len(evs)-1]
	if final.EventType != models.EventTypeCompleted {
		t.Fatalf("run should still complete, got %s", final.EventType)
	}
	if final.Record.Transcript != FallbackTranscript {
		t.Errorf("stored transcript = %q, want sentinel", final.Record.Transcript)
	}
}

func TestRunEmptyTranscriptDegrades(t *testing.T) {
	transcriber := func(ctx context.Context, audioPath string) (string, error) {
		return "   ", nil
	}
	f := newFixture(t, transcriber, happyAnalyzer(t), newFakeStore())
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	evs := drain(sub)
	final := evs[len(evs)-1]
	if final.Record.Transcript != FallbackTranscript {
		t.Errorf("stored transcript = %q, want sentinel", final.Record.Transcript)
	}
}

func TestRunAnalysisFailureDegrades(t *testing.T) {
	analyzer := func(ctx context.Context, transcript string) (models.Analysis, error) {
		return models.Analysis{}, errors.New("llm gateway 500")
	}
	f := newFixture(t, happyTranscriber(t), analyzer, newFakeStore())
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drain(sub)
	final := evs[len(evs)-1]
	if final.EventType != models.EventTypeCompleted {
		t.Fatalf("run should still complete, got %s", final.EventType)
	}
	rec := final.Record
	if rec.Transcript != "hello world" {
		t.Errorf("transcript = %q, want hello world", rec.Transcript)
	}
	if len(rec.Tags) != 0 {
		t.Errorf("tags = %v, want empty", rec.Tags)
	}
	if rec.Intent != "other" || rec.Mood != "neutral" {
		t.Errorf("intent/mood = %s/%s, want other/neutral", rec.Intent, rec.Mood)
	}
}

func TestRunPersistenceFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.failUpdates = true
	f := newFixture(t, happyTranscriber(t), happyAnalyzer(t), st)
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	artifact := writeArtifact(t)
	if err := f.orch.Run("s-1", artifact); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drain(sub)
	final := evs[len(evs)-1]
	if final.EventType != models.EventTypeFailed {
		t.Fatalf("final event type = %s, want %s", final.EventType, models.EventTypeFailed)
	}
	if !final.Terminal {
		t.Error("failure event should be terminal")
	}
	if final.Progress != 75 {
		t.Errorf("failure event progress = %d, want last-known 75", final.Progress)
	}
	if final.Error == "" {
		t.Error("failure event should carry the error")
	}

	// Placeholder rolled back, artifact removed, session freed.
	if _, err := st.GetCall("call-1"); !errors.Is(err, store.ErrRecordNotFound) {
		t.Errorf("placeholder record should be deleted, got err %v", err)
	}
	if _, err := os.Stat(artifact.StoragePath); !os.IsNotExist(err) {
		t.Errorf("artifact should be removed, stat err = %v", err)
	}
	if _, ok := f.registry.Get("s-1"); ok {
		t.Error("session should be closed after failure")
	}
}

func TestRunCreateFailureIsFatal(t *testing.T) {
	st := newFakeStore()
	st.failCreates = true
	f := newFixture(t, happyTranscriber(t), happyAnalyzer(t), st)
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drain(sub)
	final := evs[len(evs)-1]
	if final.EventType != models.EventTypeFailed {
		t.Fatalf("final event type = %s, want %s", final.EventType, models.EventTypeFailed)
	}
	if final.Progress != 0 {
		t.Errorf("failure event progress = %d, want 0", final.Progress)
	}
}

func TestRunSessionReusableAfterTerminal(t *testing.T) {
	f := newFixture(t, happyTranscriber(t), happyAnalyzer(t), newFakeStore())
	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := f.orch.Run("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("second run should reuse freed session id: %v", err)
	}
}

func TestStartRunsAsynchronously(t *testing.T) {
	done := make(chan struct{})
	transcriber := func(ctx context.Context, audioPath string) (string, error) {
		<-done
		return "hello world", nil
	}
	f := newFixture(t, transcriber, happyAnalyzer(t), newFakeStore())
	sub := progress.NewChanSubscriber(16)
	f.broadcaster.Subscribe("s-1", sub)

	if err := f.orch.Start("s-1", writeArtifact(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	close(done)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Terminal {
				if ev.EventType != models.EventTypeCompleted {
					t.Fatalf("terminal event type = %s", ev.EventType)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}
