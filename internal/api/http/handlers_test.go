package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"call-insights-service/internal/models"
	"call-insights-service/internal/pipeline"
	"call-insights-service/internal/progress"
	"call-insights-service/internal/session"
	"call-insights-service/internal/store"
)

type fakePipeline struct {
	started []string
	err     error
}

func (f *fakePipeline) Start(sessionID string, artifact pipeline.Artifact) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, sessionID)
	return nil
}

type fakeCallStore struct {
	records   map[string]*models.CallRecord
	overrides map[string][]string
}

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{
		records:   make(map[string]*models.CallRecord),
		overrides: make(map[string][]string),
	}
}

func (f *fakeCallStore) GetCall(id string) (*models.CallRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return rec, nil
}

func (f *fakeCallStore) ListCalls(limit, offset int) ([]models.CallRecord, error) {
	out := make([]models.CallRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeCallStore) OverrideTags(id string, tags []string) error {
	rec, ok := f.records[id]
	if !ok {
		return store.ErrRecordNotFound
	}
	f.overrides[id] = tags
	rec.Tags = tags
	rec.TagsOverride = tags
	return nil
}

func (f *fakeCallStore) DeleteCall(id string) error {
	if _, ok := f.records[id]; !ok {
		return store.ErrRecordNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeCallStore) Stats() (store.CallStats, error) {
	return store.CallStats{TotalCalls: len(f.records)}, nil
}

func newTestServer(t *testing.T, p PipelineStarter, cs CallStore) *httptest.Server {
	t.Helper()
	registry := session.NewRegistry(time.Minute, time.Minute)
	broadcaster := progress.NewBroadcaster(registry)
	h, err := NewHandler(t.TempDir(), 1024*1024, p, cs, broadcaster)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadCallAccepted(t *testing.T) {
	p := &fakePipeline{}
	srv := newTestServer(t, p, newFakeCallStore())

	body, contentType := multipartUpload(t, "meeting.wav", []byte("RIFF fake audio"))
	resp, err := http.Post(srv.URL+"/v1/calls", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["session_id"] == "" {
		t.Error("response should carry a generated session_id")
	}
	if len(p.started) != 1 || p.started[0] != out["session_id"] {
		t.Errorf("pipeline started with %v, want [%s]", p.started, out["session_id"])
	}
}

func TestUploadCallHonorsClientSessionID(t *testing.T) {
	p := &fakePipeline{}
	srv := newTestServer(t, p, newFakeCallStore())

	body, contentType := multipartUpload(t, "meeting.wav", []byte("RIFF"))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/calls", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-ID", "client-chosen")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["session_id"] != "client-chosen" {
		t.Errorf("session_id = %q, want client-chosen", out["session_id"])
	}
}

func TestUploadCallRejectsBadExtension(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, newFakeCallStore())

	body, contentType := multipartUpload(t, "notes.txt", []byte("hello"))
	resp, err := http.Post(srv.URL+"/v1/calls", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadCallRejectsEmptyFile(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, newFakeCallStore())

	body, contentType := multipartUpload(t, "silence.wav", nil)
	resp, err := http.Post(srv.URL+"/v1/calls", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadCallSessionConflict(t *testing.T) {
	p := &fakePipeline{err: session.ErrSessionConflict}
	srv := newTestServer(t, p, newFakeCallStore())

	body, contentType := multipartUpload(t, "meeting.wav", []byte("RIFF"))
	resp, err := http.Post(srv.URL+"/v1/calls", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetCall(t *testing.T) {
	cs := newFakeCallStore()
	cs.records["abc"] = &models.CallRecord{ID: "abc", Filename: "meeting.wav", Transcript: "hello"}
	srv := newTestServer(t, &fakePipeline{}, cs)

	resp, err := http.Get(srv.URL + "/v1/calls/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rec models.CallRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "abc" || rec.Transcript != "hello" {
		t.Errorf("got %+v", rec)
	}
}

func TestGetCallNotFound(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, newFakeCallStore())

	resp, err := http.Get(srv.URL + "/v1/calls/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestOverrideTags(t *testing.T) {
	cs := newFakeCallStore()
	cs.records["abc"] = &models.CallRecord{ID: "abc", Tags: []string{"inquiry"}}
	srv := newTestServer(t, &fakePipeline{}, cs)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/calls/abc/tags",
		strings.NewReader(`{"tags":["sale","follow-up"]}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	want := []string{"sale", "follow-up"}
	got := cs.overrides["abc"]
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("override = %v, want %v", got, want)
	}
}

func TestOverrideTagsRequiresTagsField(t *testing.T) {
	cs := newFakeCallStore()
	cs.records["abc"] = &models.CallRecord{ID: "abc"}
	srv := newTestServer(t, &fakePipeline{}, cs)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/calls/abc/tags",
		strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteCall(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "abc.wav")
	if err := os.WriteFile(artifact, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	cs := newFakeCallStore()
	cs.records["abc"] = &models.CallRecord{ID: "abc", StoragePath: artifact}
	srv := newTestServer(t, &fakePipeline{}, cs)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/calls/abc", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, ok := cs.records["abc"]; ok {
		t.Error("record should be removed")
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Errorf("artifact should be removed, stat err = %v", err)
	}
}

func TestDeleteCallNotFound(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, newFakeCallStore())

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/calls/missing", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListCalls(t *testing.T) {
	cs := newFakeCallStore()
	cs.records["a"] = &models.CallRecord{ID: "a"}
	cs.records["b"] = &models.CallRecord{ID: "b"}
	srv := newTestServer(t, &fakePipeline{}, cs)

	resp, err := http.Get(srv.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("count = %d, want 2", out.Count)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakePipeline{}, newFakeCallStore())

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestUploadCallStartFailureCleansUp(t *testing.T) {
	p := &fakePipeline{err: errors.New("registry unavailable")}
	srv := newTestServer(t, p, newFakeCallStore())

	body, contentType := multipartUpload(t, "meeting.wav", []byte("RIFF"))
	resp, err := http.Post(srv.URL+"/v1/calls", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
